package postgresengine

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateLockNotAvailable     = "55P03"
)

// classifyError maps Postgres error codes of both pgx and lib/pq onto the eventstore error categories.
func classifyError(err error) error {
	switch sqlState(err) {
	case sqlStateSerializationFailure:
		return errors.Join(eventstore.ErrConcurrencyConflict, eventstore.ErrSerializationFailure, err)
	case sqlStateLockNotAvailable:
		return errors.Join(eventstore.ErrHandlerLocked, err)
	default:
		return err
	}
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}

	return ""
}
