// Package adapters provide database adapter implementations for the PostgreSQL event store.
//
// Three PostgreSQL client libraries are supported: pgx.Pool, sql.DB, and sqlx.DB.
// All adapters expose statements, transactions with a chosen isolation level, and text[] scanning
// through the DBAdapter interface, so the event store does not depend on a specific client.
package adapters
