package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	defaultEventTableName     = "events"
	defaultBookmarksTableName = "_event_handler_bookmarks"
	defaultBusyTimeout        = 5 * time.Second

	logMsgDBQueryFailed       = "database query execution failed"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgEventsAppended      = "eventstore operation: events appended"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrEventCount         = "event_count"
	logAttrExpectedCeiling    = "expected_ceiling"
	logAttrDurationMS         = "duration_ms"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventStore is a DCB event store backed by a SQLite database file.
type EventStore struct {
	db                 *sql.DB
	tx                 *sql.Tx
	eventTableName     string
	bookmarksTableName string
	clock              func() time.Time
	logger             eventstore.Logger
	locks              *handlerLocks
}

// handlerLocks are the in-process catch-up locks, shared by a store and its transaction-bound copies.
type handlerLocks struct {
	mu     sync.Mutex
	locked map[string]struct{}
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithTableName sets the events table name.
func WithTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return eventstore.ErrEmptyEventsTableName
		}

		es.eventTableName = tableName

		return nil
	}
}

// WithBookmarksTableName sets the table holding the event handler bookmarks.
func WithBookmarksTableName(tableName string) Option {
	return func(es *EventStore) error {
		if tableName == "" {
			return ErrEmptyBookmarksTableName
		}

		es.bookmarksTableName = tableName

		return nil
	}
}

// WithClock sets the source of RecordedAt, time.Now by default.
func WithClock(clock func() time.Time) Option {
	return func(es *EventStore) error {
		es.clock = clock
		return nil
	}
}

// WithLogger sets the logger, it receives SQL at debug level and appends and conflicts at info level.
func WithLogger(logger eventstore.Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

var ErrEmptyBookmarksTableName = errors.New("empty bookmarks table name supplied")

// DSN builds the connection string the engine expects for a database file:
// WAL journaling, a busy timeout, and IMMEDIATE transactions.
func DSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Set("_txlock", "immediate")

	return "file:" + path + "?" + params.Encode()
}

// Open opens the database file at path with DSN and returns a store on it.
// The caller owns the returned *sql.DB.
func Open(ctx context.Context, path string, options ...Option) (*EventStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, nil, err
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, nil, pingErr
	}

	es, err := NewEventStore(db, options...)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return es, db, nil
}

// NewEventStore creates a store on db, which must have been opened with DSN (or equivalent settings).
func NewEventStore(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	es := &EventStore{
		db:                 db,
		eventTableName:     defaultEventTableName,
		bookmarksTableName: defaultBookmarksTableName,
		clock:              time.Now,
		locks:              &handlerLocks{locked: make(map[string]struct{})},
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// WithinSerializableTransaction implements eventstore.SerializableTransactor.
// The transaction begins IMMEDIATE and holds the write lock until it ends.
func (es *EventStore) WithinSerializableTransaction(
	ctx context.Context,
	fn func(ctx context.Context, store eventstore.EventStore) error,
) error {

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(errors.Join(eventstore.ErrBeginTransactionFailed, err))
	}

	bound := *es
	bound.tx = tx

	if fnErr := fn(ctx, &bound); fnErr != nil {
		es.rollback(tx)
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return classifyError(errors.Join(eventstore.ErrCommitTransactionFailed, commitErr))
	}

	return nil
}

// Read streams the events selected by query and options from a single statement.
func (es *EventStore) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	readOptions, err := eventstore.BuildReadOptions(options...)
	if err != nil {
		return eventstore.FailedRead(err)
	}

	sqlQuery, err := es.buildSelectQuery(query, readOptions)
	if err != nil {
		return eventstore.FailedRead(err)
	}

	return func(yield func(eventstore.EventEnvelope, error) bool) {
		es.logDebug(sqlQuery)

		rows, queryErr := es.querier().QueryContext(ctx, sqlQuery)
		if queryErr != nil {
			es.logError(logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
			yield(eventstore.EventEnvelope{}, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr))

			return
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			envelope, scanErr := scanEnvelope(rows)
			if scanErr != nil {
				yield(eventstore.EventEnvelope{}, scanErr)
				return
			}

			if !yield(envelope, nil) {
				return
			}
		}

		if rowsErr := rows.Err(); rowsErr != nil {
			yield(eventstore.EventEnvelope{}, errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr))
		}
	}
}

// Append checks the condition and inserts all events within one IMMEDIATE transaction,
// or within the bound transaction.
func (es *EventStore) Append(
	ctx context.Context,
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) ([]eventstore.EventEnvelope, error) {

	if len(events) == 0 {
		return nil, nil
	}

	rows, err := toEventRows(events, es.clock())
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if es.tx != nil {
		return es.appendWithin(ctx, es.tx, events, rows, condition, start)
	}

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyError(errors.Join(eventstore.ErrBeginTransactionFailed, err))
	}

	envelopes, err := es.appendWithin(ctx, tx, events, rows, condition, start)
	if err != nil {
		es.rollback(tx)
		return nil, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, classifyError(errors.Join(eventstore.ErrCommitTransactionFailed, commitErr))
	}

	return envelopes, nil
}

// TailPosition returns the highest assigned position, zero for an empty store.
func (es *EventStore) TailPosition(ctx context.Context) (eventstore.SequencePosition, error) {
	sqlQuery, err := es.buildTailPositionQuery()
	if err != nil {
		return 0, err
	}

	var tail int64
	if err = es.queryRow(ctx, es.querier(), sqlQuery, &tail); err != nil {
		return 0, err
	}

	return eventstore.SequencePosition(tail), nil
}

func (es *EventStore) appendWithin(
	ctx context.Context,
	tx *sql.Tx,
	events []eventstore.Event,
	rows []eventRow,
	condition *eventstore.AppendCondition,
	start time.Time,
) ([]eventstore.EventEnvelope, error) {

	if condition != nil {
		conflictQuery, err := es.buildConflictQuery(*condition)
		if err != nil {
			return nil, err
		}

		var conflicting int64
		err = es.queryRow(ctx, tx, conflictQuery, &conflicting)

		switch {
		case err == nil:
			es.logInfo(
				logMsgConcurrencyConflict,
				logAttrEventCount, len(events),
				logAttrExpectedCeiling, uint64(condition.ExpectedCeiling),
			)

			return nil, eventstore.ErrConcurrencyConflict
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	insertQuery, err := es.buildInsertQuery(rows)
	if err != nil {
		return nil, err
	}

	es.logDebug(insertQuery)

	result, err := tx.ExecContext(ctx, insertQuery)
	if err != nil {
		es.logError(logMsgDBQueryFailed, err, logAttrQuery, insertQuery)
		return nil, classifyError(errors.Join(eventstore.ErrAppendingEventFailed, err))
	}

	last, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Join(eventstore.ErrAppendingEventFailed, err)
	}

	// writers are serialized, so one multi-row insert gets consecutive positions ending at last
	first := last - int64(len(events)) + 1
	envelopes := make([]eventstore.EventEnvelope, 0, len(events))

	for i, event := range events {
		envelopes = append(envelopes, eventstore.EventEnvelope{
			Event:            event,
			SequencePosition: eventstore.SequencePosition(first + int64(i)),
			RecordedAt:       time.Unix(0, rows[i].recordedAt).UTC(),
		})
	}

	es.logInfo(
		logMsgEventsAppended,
		logAttrEventCount, len(envelopes),
		logAttrDurationMS, time.Since(start).Milliseconds(),
	)

	return envelopes, nil
}

// eventRow is an event in its stored representation.
type eventRow struct {
	eventType  string
	tags       string
	data       string
	metadata   string
	recordedAt int64
}

func toEventRows(events []eventstore.Event, recordedAt time.Time) ([]eventRow, error) {
	rows := make([]eventRow, 0, len(events))

	for _, event := range events {
		if event.Type() == "" {
			return nil, fmt.Errorf("%w: %w", eventstore.ErrValidation, eventstore.ErrEmptyEventType)
		}

		tokens := event.Tags().Strings()
		if tokens == nil {
			tokens = []string{}
		}

		tags, err := json.Marshal(tokens)
		if err != nil {
			return nil, errors.Join(eventstore.ErrAppendingEventFailed, err)
		}

		rows = append(rows, eventRow{
			eventType:  event.Type(),
			tags:       string(tags),
			data:       string(event.Data()),
			metadata:   string(event.Metadata()),
			recordedAt: recordedAt.UnixNano(),
		})
	}

	return rows, nil
}

func scanEnvelope(rows *sql.Rows) (eventstore.EventEnvelope, error) {
	var (
		position   int64
		eventType  string
		tagsJSON   string
		data       []byte
		metadata   []byte
		recordedAt int64
	)

	if err := rows.Scan(&position, &eventType, &tagsJSON, &data, &metadata, &recordedAt); err != nil {
		return eventstore.EventEnvelope{}, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	var tokens []string
	if err := json.Unmarshal([]byte(tagsJSON), &tokens); err != nil {
		return eventstore.EventEnvelope{}, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	return eventstore.EventEnvelope{
		Event:            eventstore.RestoreEvent(eventType, eventstore.RestoreTags(tokens), data, metadata),
		SequencePosition: eventstore.SequencePosition(position),
		RecordedAt:       time.Unix(0, recordedAt).UTC(),
	}, nil
}

func (es *EventStore) queryRow(ctx context.Context, q querier, sqlQuery string, dest ...any) error {
	es.logDebug(sqlQuery)

	rows, err := q.QueryContext(ctx, sqlQuery)
	if err != nil {
		es.logError(logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return classifyError(errors.Join(eventstore.ErrQueryingEventsFailed, err))
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return classifyError(errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr))
		}

		return sql.ErrNoRows
	}

	if scanErr := rows.Scan(dest...); scanErr != nil {
		return errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
	}

	return nil
}

func (es *EventStore) querier() querier {
	if es.tx != nil {
		return es.tx
	}

	return es.db
}

func (es *EventStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		es.logWarn(logMsgRollbackFailed, err)
	}
}

func (es *EventStore) logDebug(sqlQuery string) {
	if es.logger != nil {
		es.logger.Debug("executed sql", logAttrQuery, sqlQuery)
	}
}

func (es *EventStore) logInfo(msg string, args ...any) {
	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}

func (es *EventStore) logWarn(msg string, err error) {
	if es.logger != nil {
		es.logger.Warn(msg, logAttrError, err.Error())
	}
}

func (es *EventStore) logError(msg string, err error, args ...any) {
	if es.logger != nil {
		es.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}
