package eventstore

import (
	"errors"
	"fmt"
)

// Error categories. Concrete errors are always returned wrapped together with one of these,
// so callers can branch on the category with errors.Is.
var (
	// ErrValidation marks malformed input: tags, positions, event types, JSON payloads, queries, limits.
	ErrValidation = errors.New("validation error")

	// ErrConcurrencyConflict is returned when an AppendCondition was violated.
	ErrConcurrencyConflict = errors.New("expected version fail: new events matching append condition found")

	// ErrNotSerializable is returned when an append runs in a transaction with an isolation level below SERIALIZABLE.
	ErrNotSerializable = errors.New("transaction isolation level must be serializable")

	// ErrHandlerLocked is returned when the bookmark of at least one event handler is locked by another process.
	ErrHandlerLocked = errors.New("event handler bookmark is locked by another process")
)

// Validation errors.
var (
	ErrInvalidTag              = errors.New("tag must be of the form key=value with alphanumeric or hyphen characters")
	ErrEmptyTags               = errors.New("tags must not be empty")
	ErrInvalidSequencePosition = errors.New("sequence position must not be negative")
	ErrEmptyEventType          = errors.New("event type must not be empty")
	ErrInvalidDataJSON         = errors.New("data json is not valid")
	ErrInvalidMetadataJSON     = errors.New("metadata json is not valid")
	ErrEmptyQuery              = errors.New("query must contain at least one query item")
	ErrInvalidLimit            = errors.New("limit must be greater than zero")
)

// Infrastructure errors.
var (
	ErrNilDatabaseConnection   = errors.New("database connection must not be nil")
	ErrEmptyEventsTableName    = errors.New("empty events table name supplied")
	ErrBuildingQueryFailed     = errors.New("building query failed")
	ErrQueryingEventsFailed    = errors.New("querying events failed")
	ErrScanningDBRowFailed     = errors.New("scanning db row failed")
	ErrAppendingEventFailed    = errors.New("appending the event failed")
	ErrBeginTransactionFailed  = errors.New("beginning transaction failed")
	ErrCommitTransactionFailed = errors.New("committing transaction failed")
	ErrSerializationFailure    = errors.New("serialization failure")
	ErrBookmarkOperationFailed = errors.New("event handler bookmark operation failed")
)

func validationError(concrete error, detail string) error {
	if detail == "" {
		return fmt.Errorf("%w: %w", ErrValidation, concrete)
	}

	return fmt.Errorf("%w: %w: %s", ErrValidation, concrete, detail)
}
