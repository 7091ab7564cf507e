package postgresengine

import (
	"errors"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/postgresengine/internal/adapters"
)

var ErrEmptyBookmarksTableName = errors.New("empty bookmarks table name supplied")
var ErrInvalidFetchSize = errors.New("fetch size must be greater than zero")

// IsolationLevel is the isolation level of a transaction started with InTransaction.
type IsolationLevel = adapters.IsolationLevel

const (
	ReadCommitted  = adapters.ReadCommitted
	RepeatableRead = adapters.RepeatableRead
	Serializable   = adapters.Serializable
)

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithTableName sets the events table name for the EventStore.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithBookmarksTableName sets the table holding the event handler bookmarks.
func WithBookmarksTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return ErrEmptyBookmarksTableName
		}

		es.bookmarksTableName = tableName

		return nil
	}
}

// WithFetchSize sets how many rows one cursor round trip fetches during Read (default 100).
func WithFetchSize(fetchSize int) Option {
	return func(es *EventStore) error {
		if fetchSize <= 0 {
			return ErrInvalidFetchSize
		}

		es.fetchSize = fetchSize

		return nil
	}
}

// WithClock makes appends write timestamps from clock instead of the database's now().
func WithClock(clock func() time.Time) Option {
	return func(es *EventStore) error {
		es.clock = clock
		return nil
	}
}

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: Event counts, durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, which receives the same messages as the Logger
// together with the context, enabling trace correlation.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// It receives read/append durations, event counts, concurrency conflicts, and database errors.
func WithMetrics(collector eventstore.MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// Spans are created for read, append, and catch-up operations.
func WithTracing(collector eventstore.TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}
