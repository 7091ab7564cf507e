package postgresengine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	spanNameRead    = "EventStore.Read"
	spanNameAppend  = "EventStore.Append"
	spanNameCatchup = "EventStore.CatchupHandlers"

	spanAttrOperation       = "operation"
	spanAttrQuery           = "query"
	spanAttrConsistency     = "consistency"
	spanAttrEventCount      = "event_count"
	spanAttrEventType       = "event_type"
	spanAttrExpectedCeiling = "expected_ceiling"
	spanAttrLastPosition    = "last_position"
	spanAttrHandlerCount    = "handler_count"
	spanAttrDurationMS      = "duration_ms"
	spanAttrErrorType       = "error_type"

	operationRead    = "read"
	operationAppend  = "append"
	operationCatchup = "catchup"

	statusSuccess = "success"
	statusError   = "error"

	metricReadDuration         = "eventstore_read_duration_seconds"
	metricAppendDuration       = "eventstore_append_duration_seconds"
	metricEventsRead           = "eventstore_events_read_total"
	metricEventsAppended       = "eventstore_events_appended_total"
	metricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	metricDatabaseErrors       = "eventstore_database_errors_total"

	errorTypeBuildQuery          = "build_query"
	errorTypeBeginTx             = "begin_transaction"
	errorTypeCommit              = "commit"
	errorTypeDatabaseQuery       = "database_query"
	errorTypeRowScan             = "row_scan"
	errorTypeConcurrencyConflict = "concurrency_conflict"
	errorTypeNotSerializable     = "not_serializable"
	errorTypeHandlerLocked       = "handler_locked"
	errorTypeHandlerFailed       = "handler_failed"
	errorTypeCanceled            = "canceled"
)

func errorTypeOf(err error) string {
	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return errorTypeConcurrencyConflict
	case errors.Is(err, eventstore.ErrNotSerializable):
		return errorTypeNotSerializable
	case errors.Is(err, eventstore.ErrHandlerLocked):
		return errorTypeHandlerLocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeCanceled
	case errors.Is(err, eventstore.ErrBuildingQueryFailed):
		return errorTypeBuildQuery
	case errors.Is(err, eventstore.ErrBeginTransactionFailed):
		return errorTypeBeginTx
	case errors.Is(err, eventstore.ErrCommitTransactionFailed):
		return errorTypeCommit
	case errors.Is(err, eventstore.ErrScanningDBRowFailed):
		return errorTypeRowScan
	case errors.Is(err, eventstore.ErrQueryingEventsFailed),
		errors.Is(err, eventstore.ErrAppendingEventFailed),
		errors.Is(err, eventstore.ErrBookmarkOperationFailed):
		return errorTypeDatabaseQuery
	default:
		return errorTypeHandlerFailed
	}
}

// === Logging ===

// logQueryWithDuration logs SQL statements with execution time at debug level.
func (es *EventStore) logQueryWithDuration(ctx context.Context, sqlQuery string, action string, duration time.Duration) {
	args := []any{logAttrDurationMS, es.toMilliseconds(duration), logAttrQuery, sqlQuery}

	if es.logger != nil {
		es.logger.Debug(logMsgSQLExecuted+action, args...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, args...)
	}
}

// logOperationWithContext logs operational information at info level.
func (es *EventStore) logOperationWithContext(ctx context.Context, action string, args ...any) {
	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logErrorWithContext logs failures at error level.
func (es *EventStore) logErrorWithContext(ctx context.Context, message string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if es.logger != nil {
		es.logger.Error(message, allArgs...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

func (es *EventStore) logError(message string, err error, args ...any) {
	if es.logger != nil {
		es.logger.Error(message, append([]any{logAttrError, err.Error()}, args...)...)
	}
}

func (es *EventStore) logWarn(message string, err error) {
	if es.logger != nil {
		es.logger.Warn(message, logAttrError, err.Error())
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (es *EventStore) toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2f", float64(d.Nanoseconds())/1e6)
}

// === Metrics ===

func (es *EventStore) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	es.metricsCollector.RecordDuration(metric, d, labels)
}

func (es *EventStore) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	es.metricsCollector.RecordValue(metric, value, labels)
}

func (es *EventStore) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if es.metricsCollector == nil {
		return
	}

	if contextual, ok := es.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	es.metricsCollector.IncrementCounter(metric, labels)
}

// operationMetricsObserver encapsulates the metrics collection for one read or append.
type operationMetricsObserver struct {
	es              *EventStore
	ctx             context.Context
	operation       string
	durationMetric  string
	eventCountMeter string
}

func (es *EventStore) startReadMetrics(ctx context.Context) *operationMetricsObserver {
	return &operationMetricsObserver{
		es:              es,
		ctx:             ctx,
		operation:       operationRead,
		durationMetric:  metricReadDuration,
		eventCountMeter: metricEventsRead,
	}
}

func (es *EventStore) startAppendMetrics(ctx context.Context) *operationMetricsObserver {
	return &operationMetricsObserver{
		es:              es,
		ctx:             ctx,
		operation:       operationAppend,
		durationMetric:  metricAppendDuration,
		eventCountMeter: metricEventsAppended,
	}
}

func (o *operationMetricsObserver) labels(status string) map[string]string {
	return map[string]string{spanAttrOperation: o.operation, "status": status}
}

func (o *operationMetricsObserver) recordSuccess(eventCount int, d time.Duration) {
	o.es.recordDuration(o.ctx, o.durationMetric, d, o.labels(statusSuccess))
	o.es.recordValue(o.ctx, o.eventCountMeter, float64(eventCount), o.labels(statusSuccess))
}

func (o *operationMetricsObserver) recordError(errorType string, d time.Duration) {
	o.es.recordDuration(o.ctx, o.durationMetric, d, o.labels(statusError))

	labels := o.labels(statusError)
	labels[spanAttrErrorType] = errorType
	o.es.incrementCounter(o.ctx, metricDatabaseErrors, labels)
}

func (o *operationMetricsObserver) recordConcurrencyConflict(d time.Duration) {
	o.es.recordDuration(o.ctx, o.durationMetric, d, o.labels(statusError))
	o.es.incrementCounter(o.ctx, metricConcurrencyConflicts, map[string]string{
		spanAttrOperation: o.operation,
		"conflict_type":   "append_condition",
	})
}

// === Tracing ===

// tracingObserver encapsulates the span lifecycle of one operation, it is a no-op without a TracingCollector.
type tracingObserver struct {
	es   *EventStore
	span eventstore.SpanContext
}

func (es *EventStore) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, *tracingObserver) {
	if es.tracingCollector == nil {
		return ctx, &tracingObserver{es: es}
	}

	newCtx, span := es.tracingCollector.StartSpan(ctx, name, attrs)

	return newCtx, &tracingObserver{es: es, span: span}
}

func (es *EventStore) startReadTracing(ctx context.Context, query eventstore.Query) (context.Context, *tracingObserver) {
	return es.startSpan(ctx, spanNameRead, map[string]string{
		spanAttrOperation:   operationRead,
		spanAttrQuery:       query.String(),
		spanAttrConsistency: eventstore.GetConsistencyLevel(ctx).String(),
	})
}

func (es *EventStore) startAppendTracing(
	ctx context.Context,
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) (context.Context, *tracingObserver) {

	return es.startSpan(ctx, spanNameAppend, map[string]string{
		spanAttrOperation:       operationAppend,
		spanAttrEventCount:      strconv.Itoa(len(events)),
		spanAttrEventType:       events[0].Type(),
		spanAttrExpectedCeiling: strconv.FormatUint(expectedCeiling(condition), 10),
	})
}

func (es *EventStore) startCatchupTracing(ctx context.Context, handlerCount int) (context.Context, *tracingObserver) {
	return es.startSpan(ctx, spanNameCatchup, map[string]string{
		spanAttrOperation:    operationCatchup,
		spanAttrHandlerCount: strconv.Itoa(handlerCount),
	})
}

func (to *tracingObserver) finish(status string, attrs map[string]string) {
	if to.span == nil {
		return
	}

	to.span.SetStatus(status)
	for key, value := range attrs {
		to.span.AddAttribute(key, value)
	}

	to.es.tracingCollector.FinishSpan(to.span, status, attrs)
}

func (to *tracingObserver) finishError(errorType string, d time.Duration) {
	to.finish(statusError, map[string]string{
		spanAttrErrorType:  errorType,
		spanAttrDurationMS: formatDuration(d),
	})
}

func (to *tracingObserver) finishSuccess(eventCount int, d time.Duration) {
	to.finish(statusSuccess, map[string]string{
		spanAttrEventCount: strconv.Itoa(eventCount),
		spanAttrDurationMS: formatDuration(d),
	})
}

func (to *tracingObserver) finishAppendSuccess(envelopes []eventstore.EventEnvelope, d time.Duration) {
	to.finish(statusSuccess, map[string]string{
		spanAttrEventCount:   strconv.Itoa(len(envelopes)),
		spanAttrLastPosition: envelopes[len(envelopes)-1].SequencePosition.String(),
		spanAttrDurationMS:   formatDuration(d),
	})
}

func (es *EventStore) finishRead(
	ctx context.Context,
	tracing *tracingObserver,
	metrics *operationMetricsObserver,
	delivered int,
	d time.Duration,
) {

	es.logOperationWithContext(
		ctx,
		logMsgReadCompleted,
		logAttrEventCount, delivered,
		logAttrDurationMS, es.toMilliseconds(d),
	)
	tracing.finishSuccess(delivered, d)
	metrics.recordSuccess(delivered, d)
}
