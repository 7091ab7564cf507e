package sqliteengine

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// classifyError reports lock contention that outlasted the busy timeout as a concurrency conflict,
// callers retry it the same way as a violated append condition.
func classifyError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errors.Join(eventstore.ErrConcurrencyConflict, err)
	default:
		return err
	}
}
