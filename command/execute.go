package command

import (
	"context"
	"errors"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/decisionmodel"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	// HandleDurationMetric records how long Execute took, labeled by command type and status.
	HandleDurationMetric = "command_handle_duration_seconds"

	// HandleCallsMetric counts Execute calls, labeled by command type and status.
	HandleCallsMetric = "command_handle_calls_total"

	spanNameExecute = "Command.Execute"

	labelCommandType    = "command_type"
	labelAttemptNumber  = "attempt_number"
	labelErrorType      = "error_type"
	labelFinalErrorType = "final_error_type"
	labelStatus         = "status"

	statusSuccess    = "success"
	statusIdempotent = "idempotent"
	statusError      = "error"

	logMsgCommandExecuted = "command executed"
	logMsgCommandFailed   = "command failed"
)

// Decide turns a decision model into the events to append.
// Returning no events and no error means the command has nothing to do, e.g. it was already applied.
type Decide func(model decisionmodel.DecisionModel) ([]eventstore.Event, error)

// Result describes a successful Execute.
type Result struct {
	// Envelopes are the appended events, empty when Idempotent.
	Envelopes []eventstore.EventEnvelope

	// Idempotent is true if decide returned no events.
	Idempotent bool

	Retry RetryMetrics
}

type executor struct {
	commandType      string
	retryOptions     []RetryOption
	logger           eventstore.Logger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

// Option configures Execute.
type Option func(*executor)

// WithCommandType names the command in logs, metrics, and spans (default "command").
func WithCommandType(commandType string) Option {
	return func(e *executor) {
		if commandType != "" {
			e.commandType = commandType
		}
	}
}

// WithRetryOptions tunes the conflict retries.
func WithRetryOptions(options ...RetryOption) Option {
	return func(e *executor) {
		e.retryOptions = append(e.retryOptions, options...)
	}
}

func WithLogger(logger eventstore.Logger) Option {
	return func(e *executor) {
		e.logger = logger
	}
}

// WithMetricsCollector records handle durations and calls, and the retries.
func WithMetricsCollector(collector eventstore.MetricsCollector) Option {
	return func(e *executor) {
		e.metricsCollector = collector
	}
}

func WithTracingCollector(collector eventstore.TracingCollector) Option {
	return func(e *executor) {
		e.tracingCollector = collector
	}
}

// Execute builds the decision model from handlers, lets decide produce events, and appends them
// under the model's AppendCondition.
//
// If store is a SerializableTransactor the whole cycle runs in one of its serializable transactions.
// A concurrency conflict restarts the cycle from a fresh decision model.
func Execute(
	ctx context.Context,
	store eventstore.EventStore,
	handlers map[string]decisionmodel.StateHandler,
	decide Decide,
	options ...Option,
) (Result, error) {

	e := &executor{commandType: "command"}
	for _, option := range options {
		option(e)
	}

	retryOptions := e.retryOptions
	if e.metricsCollector != nil {
		retryOptions = append(retryOptions, WithMetrics(e.metricsCollector, e.commandType))
	}

	ctx, span := e.startSpan(ctx)
	start := time.Now()

	var result Result

	attempt := func(ctx context.Context) error {
		result = Result{}

		cycle := func(ctx context.Context, store eventstore.EventStore) error {
			model, err := decisionmodel.Build(ctx, store, handlers)
			if err != nil {
				return err
			}

			events, err := decide(model)
			if err != nil {
				return err
			}

			if len(events) == 0 {
				result.Idempotent = true
				return nil
			}

			envelopes, err := store.Append(ctx, events, model.AppendCondition())
			if err != nil {
				return err
			}

			result.Envelopes = envelopes

			return nil
		}

		if transactor, ok := store.(eventstore.SerializableTransactor); ok {
			return transactor.WithinSerializableTransaction(ctx, cycle)
		}

		return cycle(ctx, store)
	}

	retryMetrics, err := RetryWithExponentialBackoff(ctx, attempt, retryOptions...)
	result.Retry = retryMetrics
	duration := time.Since(start)

	if err != nil {
		e.finish(ctx, span, statusError, duration, retryMetrics, err)
		return Result{Retry: retryMetrics}, err
	}

	status := statusSuccess
	if result.Idempotent {
		status = statusIdempotent
	}

	e.finish(ctx, span, status, duration, retryMetrics, nil)

	return result, nil
}

func (e *executor) startSpan(ctx context.Context) (context.Context, eventstore.SpanContext) {
	if e.tracingCollector == nil {
		return ctx, nil
	}

	return e.tracingCollector.StartSpan(ctx, spanNameExecute, map[string]string{labelCommandType: e.commandType})
}

func (e *executor) finish(
	ctx context.Context,
	span eventstore.SpanContext,
	status string,
	duration time.Duration,
	retryMetrics RetryMetrics,
	err error,
) {

	labels := map[string]string{labelCommandType: e.commandType, labelStatus: status}

	if e.metricsCollector != nil {
		if contextual, ok := e.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
			contextual.RecordDurationContext(ctx, HandleDurationMetric, duration, labels)
			contextual.IncrementCounterContext(ctx, HandleCallsMetric, labels)
		} else {
			e.metricsCollector.RecordDuration(HandleDurationMetric, duration, labels)
			e.metricsCollector.IncrementCounter(HandleCallsMetric, labels)
		}
	}

	if span != nil {
		attrs := map[string]string{labelStatus: status}
		if err != nil {
			attrs[labelErrorType] = errorTypeOf(err)
		}

		span.SetStatus(status)
		e.tracingCollector.FinishSpan(span, status, attrs)
	}

	if e.logger == nil {
		return
	}

	args := []any{
		labelCommandType, e.commandType,
		labelStatus, status,
		"attempts", retryMetrics.Attempts,
		"duration_ms", float64(duration.Microseconds()) / 1000,
	}

	switch {
	case err == nil:
		e.logger.Info(logMsgCommandExecuted, args...)
	case errors.Is(err, eventstore.ErrConcurrencyConflict), errorTypeOf(err) == errorTypeOther:
		// business rule violations and exhausted retries are expected outcomes
		e.logger.Warn(logMsgCommandFailed, append(args, "error", err.Error())...)
	default:
		e.logger.Error(logMsgCommandFailed, append(args, "error", err.Error())...)
	}
}
