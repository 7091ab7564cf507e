// Package eventstore provides the core abstractions of a Dynamic Consistency Boundary (DCB) event store.
//
// There are no streams. Every event lives in one global, totally ordered log and carries a type and
// a set of "key=value" tags. Consistency boundaries are defined per decision by a Query, and optimistic
// concurrency control is expressed with an AppendCondition: "fail if any event matching this query
// was appended after the position I have seen".
//
// Key types:
//   - Tags, Event, EventEnvelope, SequencePosition
//   - Query, QueryItem, and the QueryBuilder
//   - AppendCondition, ReadOption
//   - EventStore (EventReader + EventAppender)
//
// Common usage pattern:
//
//	query := eventstore.BuildQuery().
//		Matching().
//		AnyEventTypeOf("CourseDefined", "CourseCapacityChanged").
//		AndAllTagsOf(eventstore.MustTagsFrom("course=c1")).
//		Finalize()
//
//	events, err := eventstore.Collect(store.Read(ctx, query))
//	if err != nil {
//		// handle error
//	}
//
//	_, err = store.Append(ctx, newEvents, eventstore.NewAppendCondition(query, events[len(events)-1].SequencePosition))
//
// Engines live in the sub-packages memoryengine, postgresengine, and sqliteengine.
package eventstore
