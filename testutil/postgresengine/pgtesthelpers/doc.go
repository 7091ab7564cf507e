// Package pgtesthelpers provides the test database for the PostgreSQL EventStore integration tests.
//
// The database is taken from DCB_TEST_POSTGRES_DSN if set. Otherwise, with DCB_TEST_TESTCONTAINERS=1,
// a throwaway Postgres container is started with testcontainers. Without either, the integration tests skip.
//
// Every test gets its own uniquely named events and bookmarks tables, dropped again on cleanup,
// so tests for all adapters (pgx.Pool, sql.DB, sqlx.DB) can share one database and run in parallel.
package pgtesthelpers
