// Package postgresengine provides a PostgreSQL implementation of the DCB event store.
//
// Events live in one table with a BIGSERIAL position, a text[] of "key=value" tags, and JSONB data and
// metadata. Queries are rendered with goqu: type filters become IN (...), tag filters become array
// containment (tags @> ARRAY[...]), and onlyLastEvent items select MAX(sequence_position).
//
// Key features:
//   - Multiple database adapter support (pgx, sql.DB with lib/pq, sqlx)
//   - Conditional appends as one INSERT ... SELECT ... WHERE NOT EXISTS statement under SERIALIZABLE isolation
//   - Streaming reads through a server-side cursor
//   - Handler catch-up with FOR UPDATE NOWAIT bookmark locks
//   - Optional replica routing for eventually consistent reads
//   - Logging, metrics, and tracing through dependency-free interfaces
//
// Usage examples:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewEventStoreFromPGXPool(db, postgresengine.WithLogger(slog.Default()))
//	_ = store.CreateSchema(ctx)
//
//	// Read-decide-append within one serializable transaction
//	err := store.InTransaction(ctx, postgresengine.Serializable, func(ctx context.Context, tx *postgresengine.EventStore) error {
//		events, err := eventstore.Collect(tx.Read(ctx, query))
//		...
//		_, err = tx.Append(ctx, newEvents, eventstore.NewAppendCondition(query, ceiling))
//		return err
//	})
package postgresengine
