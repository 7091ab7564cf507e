package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/postgresengine/internal/adapters"
)

const (
	defaultEventTableName     = "events"
	defaultBookmarksTableName = "_event_handler_bookmarks"
	defaultFetchSize          = 100

	isolationSerializable = "serializable"

	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgBeginTxFailed          = "failed to begin transaction"
	logMsgCommitFailed           = "failed to commit transaction"
	logMsgRollbackFailed         = "failed to roll back transaction"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgDBExecFailed           = "database execution failed during event append"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgCloseCursorFailed      = "failed to close database cursor"
	logMsgReadCompleted          = "read completed"
	logMsgEventsAppended         = "events appended"
	logMsgConcurrencyConflict    = "concurrency conflict detected"
	logMsgNotSerializable        = "append rejected outside a serializable transaction"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "eventstore operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrEventType             = "event_type"
	logAttrEventCount            = "event_count"
	logAttrDurationMS            = "duration_ms"
	logAttrExpectedCeiling       = "expected_ceiling"
	logAttrIsolation             = "isolation"
	logActionRead                = "read"
	logActionQuery               = "query"
	logActionFetch               = "fetch"
	logActionAppend              = "append"
	logActionCatchup             = "catchup"
)

// EventStore is a DCB event store backed by Postgres.
//
// A store created by one of the factories runs every operation in its own transaction.
// A store handed to the callback of InTransaction or WithinSerializableTransaction is bound to that
// transaction and must not be used after the callback returns.
type EventStore struct {
	db                 adapters.DBAdapter
	tx                 adapters.DBTx
	eventTableName     string
	bookmarksTableName string
	fetchSize          int
	clock              func() time.Time
	logger             eventstore.Logger
	contextualLogger   eventstore.ContextualLogger
	metricsCollector   eventstore.MetricsCollector
	tracingCollector   eventstore.TracingCollector
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx Pool with optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromPGXPoolAndReplica creates a new EventStore using a primary and a replica pgx Pool.
// Reads run on the replica only when the context carries eventstore.EventualConsistency.
func NewEventStoreFromPGXPoolAndReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil || replica == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional configuration.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (*EventStore, error) {
	es := &EventStore{
		db:                 db,
		eventTableName:     defaultEventTableName,
		bookmarksTableName: defaultBookmarksTableName,
		fetchSize:          defaultFetchSize,
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// InTransaction runs fn with a store bound to a new transaction of the given isolation level.
// The transaction commits if fn returns nil and rolls back otherwise.
// Appends through the bound store fail with eventstore.ErrNotSerializable unless isolation is Serializable.
func (es *EventStore) InTransaction(
	ctx context.Context,
	isolation IsolationLevel,
	fn func(ctx context.Context, store *EventStore) error,
) error {

	tx, err := es.beginTx(ctx, adapters.TxOptions{Isolation: isolation})
	if err != nil {
		return err
	}

	if fnErr := fn(ctx, es.bind(tx)); fnErr != nil {
		es.rollback(ctx, tx)

		return fnErr
	}

	return es.commit(ctx, tx)
}

// WithinSerializableTransaction implements eventstore.SerializableTransactor.
func (es *EventStore) WithinSerializableTransaction(
	ctx context.Context,
	fn func(ctx context.Context, store eventstore.EventStore) error,
) error {

	return es.InTransaction(ctx, Serializable, func(ctx context.Context, store *EventStore) error {
		return fn(ctx, store)
	})
}

// Read streams the events selected by query and options through a server-side cursor,
// fetching fetchSize rows per round trip.
//
// An unbound store reads within its own read-only REPEATABLE READ transaction, on the replica if one is
// configured and the context asks for eventual consistency. Stopping the iteration closes the cursor.
func (es *EventStore) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	readOptions, err := eventstore.BuildReadOptions(options...)
	if err != nil {
		return eventstore.FailedRead(err)
	}

	sqlQuery, buildErr := es.buildSelectQuery(query, readOptions)
	if buildErr != nil {
		es.logError(logMsgBuildSelectQueryFailed, buildErr)

		return eventstore.FailedRead(buildErr)
	}

	return func(yield func(eventstore.EventEnvelope, error) bool) {
		ctx, tracing := es.startReadTracing(ctx, query)
		metrics := es.startReadMetrics(ctx)
		start := time.Now()
		delivered := 0

		fail := func(errorType string, err error) {
			tracing.finishError(errorType, time.Since(start))
			metrics.recordError(errorType, time.Since(start))
			yield(eventstore.EventEnvelope{}, err)
		}

		querier, release, txErr := es.readQuerier(ctx)
		if txErr != nil {
			fail(errorTypeBeginTx, txErr)
			return
		}
		defer release()

		cursor, declareErr := es.declareCursor(ctx, querier, sqlQuery)
		if declareErr != nil {
			fail(errorTypeDatabaseQuery, declareErr)
			return
		}
		defer es.closeCursor(ctx, querier, cursor)

		for {
			batch, fetchErr := es.fetch(ctx, querier, cursor)
			if fetchErr != nil {
				fail(errorTypeDatabaseQuery, fetchErr)
				return
			}

			for _, envelope := range batch {
				delivered++
				if !yield(envelope, nil) {
					es.finishRead(ctx, tracing, metrics, delivered, time.Since(start))
					return
				}
			}

			if len(batch) < es.fetchSize {
				break
			}
		}

		es.finishRead(ctx, tracing, metrics, delivered, time.Since(start))
	}
}

// Append inserts all events with one statement that checks the condition and inserts in one step.
//
// An unbound store runs the statement in its own SERIALIZABLE transaction.
// A store bound to a transaction requires that transaction to be SERIALIZABLE.
// Serialization failures are reported as eventstore.ErrConcurrencyConflict, the store does not retry.
func (es *EventStore) Append(
	ctx context.Context,
	events []eventstore.Event,
	condition *eventstore.AppendCondition,
) ([]eventstore.EventEnvelope, error) {

	if len(events) == 0 {
		return nil, nil
	}

	for _, event := range events {
		if event.Type() == "" {
			return nil, fmt.Errorf("%w: %w", eventstore.ErrValidation, eventstore.ErrEmptyEventType)
		}
	}

	ctx, tracing := es.startAppendTracing(ctx, events, condition)
	metrics := es.startAppendMetrics(ctx)
	start := time.Now()

	sqlQuery, buildErr := es.buildAppendQuery(events, condition)
	if buildErr != nil {
		es.logErrorWithContext(ctx, logMsgBuildInsertQueryFailed, buildErr, logAttrEventCount, len(events))
		tracing.finishError(errorTypeBuildQuery, time.Since(start))
		metrics.recordError(errorTypeBuildQuery, time.Since(start))

		return nil, buildErr
	}

	envelopes, appendErr := es.executeAppend(ctx, sqlQuery, events)
	duration := time.Since(start)

	if appendErr != nil {
		if errors.Is(appendErr, eventstore.ErrConcurrencyConflict) {
			es.logOperationWithContext(
				ctx,
				logMsgConcurrencyConflict,
				logAttrEventCount, len(events),
				logAttrExpectedCeiling, expectedCeiling(condition),
			)
			tracing.finishError(errorTypeConcurrencyConflict, duration)
			metrics.recordConcurrencyConflict(duration)

			return nil, appendErr
		}

		tracing.finishError(errorTypeOf(appendErr), duration)
		metrics.recordError(errorTypeOf(appendErr), duration)

		return nil, appendErr
	}

	es.logOperationWithContext(
		ctx,
		logMsgEventsAppended,
		logAttrEventCount, len(envelopes),
		logAttrDurationMS, es.toMilliseconds(duration),
	)
	tracing.finishAppendSuccess(envelopes, duration)
	metrics.recordSuccess(len(envelopes), duration)

	return envelopes, nil
}

// TailPosition returns the highest assigned position, zero for an empty store.
func (es *EventStore) TailPosition(ctx context.Context) (eventstore.SequencePosition, error) {
	sqlQuery, buildErr := es.buildTailPositionQuery()
	if buildErr != nil {
		return 0, buildErr
	}

	var tail int64
	if err := es.queryRow(ctx, es.querier(), sqlQuery, &tail); err != nil {
		return 0, err
	}

	return eventstore.SequencePosition(tail), nil
}

func (es *EventStore) executeAppend(
	ctx context.Context,
	sqlQuery string,
	events []eventstore.Event,
) ([]eventstore.EventEnvelope, error) {

	if es.tx != nil {
		if err := es.requireSerializable(ctx); err != nil {
			return nil, err
		}

		return es.insert(ctx, es.tx, sqlQuery, events)
	}

	tx, err := es.beginTx(ctx, adapters.TxOptions{Isolation: adapters.Serializable})
	if err != nil {
		return nil, err
	}

	envelopes, insertErr := es.insert(ctx, tx, sqlQuery, events)
	if insertErr != nil {
		es.rollback(ctx, tx)

		return nil, insertErr
	}

	if commitErr := es.commit(ctx, tx); commitErr != nil {
		return nil, commitErr
	}

	return envelopes, nil
}

func (es *EventStore) insert(
	ctx context.Context,
	querier adapters.DBQuerier,
	sqlQuery string,
	events []eventstore.Event,
) ([]eventstore.EventEnvelope, error) {

	start := time.Now()
	rows, queryErr := querier.Query(ctx, sqlQuery)
	if queryErr != nil {
		es.logQueryWithDuration(ctx, sqlQuery, logActionAppend, time.Since(start))
		es.logErrorWithContext(ctx, logMsgDBExecFailed, queryErr, logAttrQuery, sqlQuery)

		return nil, classifyError(errors.Join(eventstore.ErrAppendingEventFailed, queryErr))
	}

	type assigned struct {
		position   int64
		recordedAt time.Time
	}

	var results []assigned

	for rows.Next() {
		var result assigned
		if scanErr := rows.Scan(&result.position, &result.recordedAt); scanErr != nil {
			_ = rows.Close()
			es.logErrorWithContext(ctx, logMsgScanRowFailed, scanErr)

			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		results = append(results, result)
	}

	rowsErr := rows.Err()
	_ = rows.Close()
	es.logQueryWithDuration(ctx, sqlQuery, logActionAppend, time.Since(start))

	if rowsErr != nil {
		es.logErrorWithContext(ctx, logMsgDBExecFailed, rowsErr, logAttrQuery, sqlQuery)

		return nil, classifyError(errors.Join(eventstore.ErrAppendingEventFailed, rowsErr))
	}

	if len(results) == 0 {
		return nil, eventstore.ErrConcurrencyConflict
	}

	if len(results) != len(events) {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", eventstore.ErrAppendingEventFailed, len(events), len(results))
	}

	slices.SortFunc(results, func(a, b assigned) int {
		return int(a.position - b.position)
	})

	envelopes := make([]eventstore.EventEnvelope, 0, len(events))
	for i, event := range events {
		envelopes = append(envelopes, eventstore.EventEnvelope{
			Event:            event,
			SequencePosition: eventstore.SequencePosition(results[i].position),
			RecordedAt:       results[i].recordedAt,
		})
	}

	return envelopes, nil
}

func (es *EventStore) requireSerializable(ctx context.Context) error {
	var isolation string
	if err := es.queryRow(ctx, es.tx, "SELECT current_setting('transaction_isolation')", &isolation); err != nil {
		return err
	}

	if !strings.EqualFold(isolation, isolationSerializable) {
		es.logOperationWithContext(ctx, logMsgNotSerializable, logAttrIsolation, isolation)

		return fmt.Errorf("%w: %s", eventstore.ErrNotSerializable, isolation)
	}

	return nil
}

// readQuerier returns the bound transaction, or a new read-only transaction and the func that ends it.
func (es *EventStore) readQuerier(ctx context.Context) (adapters.DBQuerier, func(), error) {
	if es.tx != nil {
		return es.tx, func() {}, nil
	}

	tx, err := es.beginTx(ctx, adapters.TxOptions{
		Isolation:  adapters.RepeatableRead,
		ReadOnly:   true,
		UseReplica: eventstore.GetConsistencyLevel(ctx) == eventstore.EventualConsistency,
	})
	if err != nil {
		return nil, nil, err
	}

	return tx, func() { es.rollback(context.WithoutCancel(ctx), tx) }, nil
}

func (es *EventStore) declareCursor(ctx context.Context, querier adapters.DBQuerier, sqlQuery string) (string, error) {
	cursor := "dcb_read_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", cursor, sqlQuery)

	start := time.Now()
	_, err := querier.Exec(ctx, declare)
	es.logQueryWithDuration(ctx, declare, logActionRead, time.Since(start))

	if err != nil {
		es.logErrorWithContext(ctx, logMsgDBQueryFailed, err, logAttrQuery, declare)

		return "", errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return cursor, nil
}

// closeCursor is needed for bound transactions only, ending a transaction closes its cursors.
func (es *EventStore) closeCursor(ctx context.Context, querier adapters.DBQuerier, cursor string) {
	if es.tx == nil {
		return
	}

	if _, err := querier.Exec(context.WithoutCancel(ctx), "CLOSE "+cursor); err != nil {
		es.logWarn(logMsgCloseCursorFailed, err)
	}
}

func (es *EventStore) fetch(
	ctx context.Context,
	querier adapters.DBQuerier,
	cursor string,
) ([]eventstore.EventEnvelope, error) {

	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", es.fetchSize, cursor)

	start := time.Now()
	rows, err := querier.Query(ctx, fetch)
	if err != nil {
		es.logErrorWithContext(ctx, logMsgDBQueryFailed, err, logAttrQuery, fetch)

		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}
	defer func() { _ = rows.Close() }()

	batch := make([]eventstore.EventEnvelope, 0, es.fetchSize)

	for rows.Next() {
		var (
			position   int64
			eventType  string
			tags       []string
			data       []byte
			metadata   []byte
			recordedAt time.Time
		)

		if scanErr := rows.Scan(&position, &eventType, es.db.TextArray(&tags), &data, &metadata, &recordedAt); scanErr != nil {
			es.logErrorWithContext(ctx, logMsgScanRowFailed, scanErr)

			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		batch = append(batch, eventstore.EventEnvelope{
			Event:            eventstore.RestoreEvent(eventType, eventstore.RestoreTags(tags), data, metadata),
			SequencePosition: eventstore.SequencePosition(position),
			RecordedAt:       recordedAt,
		})
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr)
	}

	es.logQueryWithDuration(ctx, fetch, logActionFetch, time.Since(start))

	return batch, nil
}

func (es *EventStore) queryRow(ctx context.Context, querier adapters.DBQuerier, sqlQuery string, dest ...any) error {
	start := time.Now()
	rows, err := querier.Query(ctx, sqlQuery)
	es.logQueryWithDuration(ctx, sqlQuery, logActionQuery, time.Since(start))

	if err != nil {
		es.logErrorWithContext(ctx, logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)

		return classifyError(errors.Join(eventstore.ErrQueryingEventsFailed, err))
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if rowsErr := rows.Err(); rowsErr != nil {
			return classifyError(errors.Join(eventstore.ErrQueryingEventsFailed, rowsErr))
		}

		return errors.Join(eventstore.ErrQueryingEventsFailed, sql.ErrNoRows)
	}

	if scanErr := rows.Scan(dest...); scanErr != nil {
		return errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
	}

	return nil
}

func (es *EventStore) querier() adapters.DBQuerier {
	if es.tx != nil {
		return es.tx
	}

	return es.db
}

func (es *EventStore) bind(tx adapters.DBTx) *EventStore {
	bound := *es
	bound.tx = tx

	return &bound
}

func (es *EventStore) beginTx(ctx context.Context, options adapters.TxOptions) (adapters.DBTx, error) {
	tx, err := es.db.BeginTx(ctx, options)
	if err != nil {
		es.logErrorWithContext(ctx, logMsgBeginTxFailed, err)

		return nil, errors.Join(eventstore.ErrBeginTransactionFailed, err)
	}

	return tx, nil
}

func (es *EventStore) commit(ctx context.Context, tx adapters.DBTx) error {
	if err := tx.Commit(ctx); err != nil {
		es.logErrorWithContext(ctx, logMsgCommitFailed, err)

		return classifyError(errors.Join(eventstore.ErrCommitTransactionFailed, err))
	}

	return nil
}

func (es *EventStore) rollback(ctx context.Context, tx adapters.DBTx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, sql.ErrTxDone) {
		es.logWarn(logMsgRollbackFailed, err)
	}
}

func expectedCeiling(condition *eventstore.AppendCondition) uint64 {
	if condition == nil {
		return 0
	}

	return uint64(condition.ExpectedCeiling)
}
