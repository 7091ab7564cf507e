package command_test

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/command"
	"github.com/AntonStoeckl/dcb-eventstore-go/decisionmodel"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/eventstoretest"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/dcb-eventstore-go/testutil/observability/testdoubles"
)

var errCourseFull = errors.New("course is full")

// interferingStore appends a competing event right before the first append passes through.
type interferingStore struct {
	inner       *memoryengine.EventStore
	competing   eventstore.Event
	interfered  bool
	appendCalls int
}

func (s *interferingStore) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	return s.inner.Read(ctx, query, options...)
}

func (s *interferingStore) Append(
	ctx context.Context,
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) ([]eventstore.EventEnvelope, error) {

	s.appendCalls++

	if !s.interfered {
		s.interfered = true
		if _, err := s.inner.Append(ctx, []eventstore.Event{s.competing}, nil); err != nil {
			return nil, err
		}
	}

	return s.inner.Append(ctx, events, condition)
}

func subscriptionHandlers(courseID string) map[string]decisionmodel.StateHandler {
	return map[string]decisionmodel.StateHandler{
		"subscriptions": decisionmodel.NewHandler(
			0,
			map[string]decisionmodel.Fold[int]{
				"StudentSubscribed": func(count int, _ eventstore.EventEnvelope) int { return count + 1 },
			},
			decisionmodel.WithTagFilter(eventstore.MustTagsFrom("course="+courseID)),
		),
	}
}

func subscribeWithCapacity(t *testing.T, capacity int, courseID string, studentID string) command.Decide {
	t.Helper()

	return func(model decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		subscriptions, err := decisionmodel.StateOf[int](model, "subscriptions")
		if err != nil {
			return nil, err
		}

		if subscriptions >= capacity {
			return nil, errCourseFull
		}

		return []eventstore.Event{
			eventstoretest.FixtureEvent(t, "StudentSubscribed", "course="+courseID, "student="+studentID),
		}, nil
	}
}

func Test_Execute_AppendsDecidedEvents(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()

	// act
	result, err := command.Execute(
		t.Context(),
		store,
		subscriptionHandlers("c1"),
		subscribeWithCapacity(t, 1, "c1", "s1"),
	)

	// assert
	require.NoError(t, err)
	require.Len(t, result.Envelopes, 1)
	assert.Equal(t, eventstore.SequencePosition(1), result.Envelopes[0].SequencePosition)
	assert.False(t, result.Idempotent)
	assert.Equal(t, 1, result.Retry.Attempts)
}

func Test_Execute_ReturnsBusinessErrorWithoutRetry(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	eventstoretest.GivenEventsWereAppended(t, store, eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s1"))

	// act
	result, err := command.Execute(
		t.Context(),
		store,
		subscriptionHandlers("c1"),
		subscribeWithCapacity(t, 1, "c1", "s2"),
	)

	// assert
	assert.ErrorIs(t, err, errCourseFull)
	assert.Equal(t, 1, result.Retry.Attempts)
	assert.Len(t, eventstoretest.ReadAll(t, store, eventstore.QueryAll()), 1)
}

func Test_Execute_RedecidesAfterConcurrencyConflict(t *testing.T) {
	// arrange
	store := &interferingStore{
		inner:     memoryengine.NewEventStore(),
		competing: eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s2"),
	}

	// act
	result, err := command.Execute(
		t.Context(),
		store,
		subscriptionHandlers("c1"),
		subscribeWithCapacity(t, 1, "c1", "s1"),
		command.WithRetryOptions(command.WithBaseDelay(time.Millisecond)),
	)

	// assert
	assert.ErrorIs(t, err, errCourseFull, "the second decision sees the competing subscription")
	assert.Equal(t, 2, result.Retry.Attempts)
	assert.Equal(t, 1, store.appendCalls)

	stored := eventstoretest.ReadAll(t, store.inner, eventstore.QueryAll())
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Event.Tags().Contains(eventstore.MustTagsFrom("student=s2")))
}

func Test_Execute_IgnoresIrrelevantConcurrentAppends(t *testing.T) {
	// arrange
	store := &interferingStore{
		inner:     memoryengine.NewEventStore(),
		competing: eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c2", "student=s2"),
	}

	// act
	result, err := command.Execute(
		t.Context(),
		store,
		subscriptionHandlers("c1"),
		subscribeWithCapacity(t, 1, "c1", "s1"),
	)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.Retry.Attempts)
	require.Len(t, result.Envelopes, 1)
	assert.Equal(t, eventstore.SequencePosition(2), result.Envelopes[0].SequencePosition)
}

func Test_Execute_NothingToAppendIsIdempotent(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	decide := func(_ decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		return nil, nil
	}

	// act
	result, err := command.Execute(t.Context(), store, subscriptionHandlers("c1"), decide)

	// assert
	require.NoError(t, err)
	assert.True(t, result.Idempotent)
	assert.Empty(t, result.Envelopes)
	assert.Empty(t, eventstoretest.ReadAll(t, store, eventstore.QueryAll()))
}

func Test_Execute_RejectsInvalidHandlers(t *testing.T) {
	_, err := command.Execute(
		t.Context(),
		memoryengine.NewEventStore(),
		map[string]decisionmodel.StateHandler{},
		subscribeWithCapacity(t, 1, "c1", "s1"),
	)

	assert.ErrorIs(t, err, eventstore.ErrValidation)
	assert.ErrorIs(t, err, decisionmodel.ErrNoHandlers)
}

func Test_Execute_Observability(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	metrics := testdoubles.NewMetricsCollectorSpy()
	tracing := testdoubles.NewTracingCollectorSpy()
	logs := testdoubles.NewLogHandlerSpy(false)

	options := []command.Option{
		command.WithCommandType("SubscribeStudentToCourse"),
		command.WithMetricsCollector(metrics),
		command.WithTracingCollector(tracing),
		command.WithLogger(logs.Logger()),
	}

	// act
	_, err := command.Execute(t.Context(), store, subscriptionHandlers("c1"), subscribeWithCapacity(t, 1, "c1", "s1"), options...)
	require.NoError(t, err)

	_, err = command.Execute(t.Context(), store, subscriptionHandlers("c1"), subscribeWithCapacity(t, 1, "c1", "s2"), options...)
	require.ErrorIs(t, err, errCourseFull)

	// assert
	calls := metrics.CounterRecordsFor(command.HandleCallsMetric)
	require.Len(t, calls, 2)
	assert.Equal(t, "success", calls[0].Labels["status"])
	assert.Equal(t, "error", calls[1].Labels["status"])
	assert.Equal(t, "SubscribeStudentToCourse", calls[1].Labels["command_type"])
	assert.Len(t, metrics.DurationRecordsFor(command.HandleDurationMetric), 2)

	spans := tracing.SpansNamed("Command.Execute")
	require.Len(t, spans, 2)
	assert.True(t, spans[0].Finished)
	assert.Equal(t, "success", spans[0].Status)
	assert.Equal(t, "other", spans[1].EndAttributes["error_type"])

	assert.True(t, logs.HasMessageAt(slog.LevelInfo, "command executed"))
	assert.True(t, logs.HasMessageAt(slog.LevelWarn, "command failed"))
}
