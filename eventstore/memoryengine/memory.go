package memoryengine

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	logMsgOperation           = "eventstore operation: "
	logMsgEventsAppended      = "events appended"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logAttrEventCount         = "event_count"
	logAttrExpectedCeiling    = "expected_ceiling"
	logAttrLastPosition       = "last_position"
)

// EventStore is an in-memory, goroutine-safe DCB event store.
type EventStore struct {
	mu     sync.RWMutex
	events []eventstore.EventEnvelope

	clock  func() time.Time
	logger eventstore.Logger

	bookmarksMu sync.Mutex
	bookmarks   map[string]eventstore.SequencePosition
	locked      map[string]struct{}
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore)

// WithClock sets the source of RecordedAt timestamps.
func WithClock(clock func() time.Time) Option {
	return func(es *EventStore) {
		es.clock = clock
	}
}

// WithLogger logs appends and conflicts at info level.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) {
		es.logger = logger
	}
}

func NewEventStore(options ...Option) *EventStore {
	es := &EventStore{
		clock:     time.Now,
		bookmarks: make(map[string]eventstore.SequencePosition),
		locked:    make(map[string]struct{}),
	}

	for _, option := range options {
		option(es)
	}

	return es
}

// Read returns the events selected by query and options, evaluated on a snapshot taken when iteration starts.
func (es *EventStore) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	readOptions, err := eventstore.BuildReadOptions(options...)
	if err != nil {
		return eventstore.FailedRead(err)
	}

	if err = query.Validate(); err != nil {
		return eventstore.FailedRead(err)
	}

	return func(yield func(eventstore.EventEnvelope, error) bool) {
		for _, envelope := range eventstore.SelectEvents(es.snapshot(), query, readOptions) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(eventstore.EventEnvelope{}, ctxErr)
				return
			}

			if !yield(envelope, nil) {
				return
			}
		}
	}
}

// Append checks the condition and appends all events in one critical section.
func (es *EventStore) Append(
	ctx context.Context,
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) ([]eventstore.EventEnvelope, error) {

	if len(events) == 0 {
		return nil, nil
	}

	for _, event := range events {
		if event.Type() == "" {
			return nil, fmt.Errorf("%w: %w", eventstore.ErrValidation, eventstore.ErrEmptyEventType)
		}
	}

	if condition != nil {
		if err := condition.Query.Validate(); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if condition != nil && es.violates(*condition) {
		es.logOperation(
			logMsgConcurrencyConflict,
			logAttrEventCount, len(events),
			logAttrExpectedCeiling, uint64(condition.ExpectedCeiling),
		)

		return nil, eventstore.ErrConcurrencyConflict
	}

	recordedAt := es.clock()
	next := eventstore.SequencePosition(len(es.events)).Next()
	envelopes := make([]eventstore.EventEnvelope, 0, len(events))

	for i, event := range events {
		envelopes = append(envelopes, eventstore.EventEnvelope{
			Event:            event,
			SequencePosition: next.Add(uint64(i)),
			RecordedAt:       recordedAt,
		})
	}

	es.events = append(es.events, envelopes...)

	es.logOperation(
		logMsgEventsAppended,
		logAttrEventCount, len(envelopes),
		logAttrLastPosition, uint64(envelopes[len(envelopes)-1].SequencePosition),
	)

	return envelopes, nil
}

// WithinSerializableTransaction runs fn against the store itself, appends are atomic on their own.
func (es *EventStore) WithinSerializableTransaction(
	ctx context.Context,
	fn func(ctx context.Context, store eventstore.EventStore) error,
) error {

	return fn(ctx, es)
}

// TailPosition returns the highest assigned position.
func (es *EventStore) TailPosition(_ context.Context) (eventstore.SequencePosition, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	return eventstore.SequencePosition(len(es.events)), nil
}

// violates must be called with mu held. Position p lives at index p-1.
func (es *EventStore) violates(condition eventstore.AppendCondition) bool {
	if condition.ExpectedCeiling >= eventstore.SequencePosition(len(es.events)) {
		return false
	}

	for i := int(condition.ExpectedCeiling); i < len(es.events); i++ {
		if condition.IsViolatedBy(es.events[i]) {
			return true
		}
	}

	return false
}

// snapshot returns the current log. Stored envelopes are never modified, so sharing the backing array is safe.
func (es *EventStore) snapshot() []eventstore.EventEnvelope {
	es.mu.RLock()
	defer es.mu.RUnlock()

	return es.events[:len(es.events):len(es.events)]
}

func (es *EventStore) logOperation(action string, args ...any) {
	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}
}
