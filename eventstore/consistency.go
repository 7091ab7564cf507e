package eventstore

import "context"

// ConsistencyLevel defines the consistency requirements for EventStore operations.
type ConsistencyLevel int

const (
	// StrongConsistency requires reads from the primary database, so that a decision model
	// sees every event committed before the read. This is the default.
	StrongConsistency ConsistencyLevel = iota

	// EventualConsistency allows reads from a replica, for projections and queries
	// that tolerate slightly stale data.
	EventualConsistency
)

// contextKey is a private type to prevent context key collisions.
type contextKey string

// ConsistencyLevelKey is the context key used to store consistency level preferences.
const ConsistencyLevelKey contextKey = "eventstore.consistency_level"

// WithStrongConsistency returns a context that routes reads to the primary.
//
// Decision models always read with it, since the position they derive becomes an append condition:
//
//	ctx = eventstore.WithStrongConsistency(ctx)
//	envelopes, err := eventstore.Collect(store.Read(ctx, query))
func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, StrongConsistency)
}

// WithEventualConsistency returns a context that allows reads from a replica.
// Engines without a replica ignore it.
//
//	ctx = eventstore.WithEventualConsistency(ctx)
//	for envelope, err := range store.Read(ctx, query) { ... }
func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, ConsistencyLevelKey, EventualConsistency)
}

// GetConsistencyLevel extracts the consistency level from the context.
// Without one, it returns StrongConsistency.
func GetConsistencyLevel(ctx context.Context) ConsistencyLevel {
	if level, ok := ctx.Value(ConsistencyLevelKey).(ConsistencyLevel); ok {
		return level
	}
	return StrongConsistency
}

// String provides a string representation of ConsistencyLevel for logging and debugging.
func (c ConsistencyLevel) String() string {
	switch c {
	case StrongConsistency:
		return "strong"
	case EventualConsistency:
		return "eventual"
	default:
		return "unknown"
	}
}
