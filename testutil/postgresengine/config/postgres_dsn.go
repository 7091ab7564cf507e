package config

import "os"

const (
	// EnvPostgresDSN names an already running test database, it takes precedence over a container.
	EnvPostgresDSN = "DCB_TEST_POSTGRES_DSN"

	// EnvTestcontainers enables starting a throwaway Postgres container when set to "1".
	EnvTestcontainers = "DCB_TEST_TESTCONTAINERS"
)

// PostgresTestDSN returns the DSN of an externally provided test database, or "" if none is configured.
func PostgresTestDSN() string {
	return os.Getenv(EnvPostgresDSN)
}

// TestcontainersEnabled reports whether a Postgres container may be started for the tests.
func TestcontainersEnabled() bool {
	return os.Getenv(EnvTestcontainers) == "1"
}
