package postgresengine

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/postgresengine/internal/adapters"
)

const (
	logMsgCatchupCompleted = "catch-up completed"
	logAttrHandlerCount    = "handler_count"
	logAttrDelivered       = "delivered"
)

// CatchupHandlers runs a catch-up for all handlers of the registry within one transaction.
//
// Missing bookmarks are registered beforehand in their own statement. The bookmarks are then locked
// with FOR UPDATE NOWAIT, a concurrent run touching any of them fails with eventstore.ErrHandlerLocked.
// Advances are committed together with the transaction, failures roll everything back.
//
// The ceiling is the tail position read at READ COMMITTED when the run starts. Positions come from a
// sequence, so an append that drew a lower position but commits after that read is not delivered by
// this run, and later runs start above it. Callers needing gap-free delivery must pass a ceiling via
// catchup.UpTo that lies below every append still in flight.
func (es *EventStore) CatchupHandlers(
	ctx context.Context,
	registry *catchup.Registry,
	options ...catchup.Option,
) (catchup.Report, error) {

	ctx, tracing := es.startCatchupTracing(ctx, len(registry.IDs()))
	start := time.Now()

	tx, err := es.beginTx(ctx, adapters.TxOptions{Isolation: adapters.ReadCommitted})
	if err != nil {
		tracing.finishError(errorTypeBeginTx, time.Since(start))
		return catchup.Report{}, err
	}

	session := &catchupSession{es: es, bound: es.bind(tx)}

	report, runErr := catchup.Run(ctx, session, registry, options...)
	if runErr != nil {
		es.rollback(ctx, tx)
		tracing.finishError(errorTypeOf(runErr), time.Since(start))

		return catchup.Report{}, runErr
	}

	if commitErr := es.commit(ctx, tx); commitErr != nil {
		tracing.finishError(errorTypeCommit, time.Since(start))
		return catchup.Report{}, commitErr
	}

	es.logOperationWithContext(
		ctx,
		logMsgCatchupCompleted,
		logAttrHandlerCount, len(report.Handlers),
		logAttrDelivered, report.Delivered(),
		logAttrDurationMS, es.toMilliseconds(time.Since(start)),
	)
	tracing.finishSuccess(report.Delivered(), time.Since(start))

	return report, nil
}

// catchupSession implements catchup.Store on top of a bound store.
type catchupSession struct {
	es    *EventStore
	bound *EventStore
}

func (s *catchupSession) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	return s.bound.Read(ctx, query, options...)
}

func (s *catchupSession) TailPosition(ctx context.Context) (eventstore.SequencePosition, error) {
	return s.bound.TailPosition(ctx)
}

// RegisterHandlers runs outside the transaction, so that concurrent runs never wait on an uncommitted bookmark row.
func (s *catchupSession) RegisterHandlers(ctx context.Context, handlerIDs []string) error {
	sqlQuery, err := s.es.buildRegisterHandlersQuery(handlerIDs)
	if err != nil {
		return err
	}

	start := time.Now()
	_, execErr := s.es.db.Exec(ctx, sqlQuery)
	s.es.logQueryWithDuration(ctx, sqlQuery, logActionCatchup, time.Since(start))

	if execErr != nil {
		return classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, execErr))
	}

	return nil
}

func (s *catchupSession) LockBookmarks(
	ctx context.Context,
	handlerIDs []string,
) (map[string]eventstore.SequencePosition, error) {

	sqlQuery, err := s.es.buildLockBookmarksQuery(handlerIDs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, queryErr := s.bound.tx.Query(ctx, sqlQuery)
	if queryErr != nil {
		return nil, classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, queryErr))
	}
	defer func() { _ = rows.Close() }()

	positions := make(map[string]eventstore.SequencePosition, len(handlerIDs))

	for rows.Next() {
		var (
			handlerID string
			position  int64
		)

		if scanErr := rows.Scan(&handlerID, &position); scanErr != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}

		positions[handlerID] = eventstore.SequencePosition(position)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, rowsErr))
	}

	s.es.logQueryWithDuration(ctx, sqlQuery, logActionCatchup, time.Since(start))

	return positions, nil
}

func (s *catchupSession) AdvanceBookmarks(ctx context.Context, positions map[string]eventstore.SequencePosition) error {
	sqlQuery, err := s.es.buildAdvanceBookmarksQuery(positions)
	if err != nil {
		return err
	}

	start := time.Now()
	_, execErr := s.bound.tx.Exec(ctx, sqlQuery)
	s.es.logQueryWithDuration(ctx, sqlQuery, logActionCatchup, time.Since(start))

	if execErr != nil {
		return classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, execErr))
	}

	return nil
}
