// Package config provides PostgreSQL connection configuration for EventStore integration tests.
//
// It contains factory functions for the supported adapters (pgx.Pool, sql.DB, sqlx.DB),
// each taking the DSN of the test database.
package config
