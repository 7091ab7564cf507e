package eventstore

import (
	"context"
	"iter"
)

// EventReader streams events matching a Query.
//
// The returned sequence is lazy, finite, and ordered by position (descending with Backwards).
// It is not restartable. Breaking out of the range loop releases all underlying resources.
// A failure is yielded once as the error of the last element.
type EventReader interface {
	Read(ctx context.Context, query Query, options ...ReadOption) iter.Seq2[EventEnvelope, error]
}

// EventAppender appends events atomically.
//
// Either all events are persisted with consecutive positions, in input order, or none.
// With a non-nil condition, the append fails with ErrConcurrencyConflict if any stored event
// with a position greater than condition.ExpectedCeiling matches condition.Query.
// Appending an empty list is a no-op.
type EventAppender interface {
	Append(ctx context.Context, events []Event, condition *AppendCondition) ([]EventEnvelope, error)
}

type EventStore interface {
	EventReader
	EventAppender
}

// SerializableTransactor is implemented by stores that can run a read-decide-append cycle
// within one serializable transaction.
type SerializableTransactor interface {
	WithinSerializableTransaction(ctx context.Context, fn func(ctx context.Context, store EventStore) error) error
}

// Collect drains a read sequence into a slice, stopping at the first error.
func Collect(events iter.Seq2[EventEnvelope, error]) ([]EventEnvelope, error) {
	var result []EventEnvelope

	for envelope, err := range events {
		if err != nil {
			return nil, err
		}

		result = append(result, envelope)
	}

	return result, nil
}

// FailedRead returns a sequence that yields only err.
func FailedRead(err error) iter.Seq2[EventEnvelope, error] {
	return func(yield func(EventEnvelope, error) bool) {
		yield(EventEnvelope{}, err)
	}
}
