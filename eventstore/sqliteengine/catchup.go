package sqliteengine

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// CatchupHandlers runs a catch-up for all handlers of the registry.
//
// Bookmarks are try-locked in process per handler id, a concurrent run touching any of them fails with
// eventstore.ErrHandlerLocked. Events are delivered without holding the database write lock, so callbacks
// may append. The final advance of all bookmarks is a single statement.
func (es *EventStore) CatchupHandlers(
	ctx context.Context,
	registry *catchup.Registry,
	options ...catchup.Option,
) (catchup.Report, error) {

	session := &catchupSession{es: es}
	defer session.release()

	return catchup.Run(ctx, session, registry, options...)
}

// Bookmark returns the stored position of a handler, zero if it was never registered.
func (es *EventStore) Bookmark(ctx context.Context, handlerID string) (eventstore.SequencePosition, error) {
	positions, err := es.selectBookmarks(ctx, []string{handlerID})
	if err != nil {
		return 0, err
	}

	return positions[handlerID], nil
}

type catchupSession struct {
	es   *EventStore
	held []string
}

func (s *catchupSession) Read(
	ctx context.Context,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) iter.Seq2[eventstore.EventEnvelope, error] {

	return s.es.Read(ctx, query, options...)
}

func (s *catchupSession) TailPosition(ctx context.Context) (eventstore.SequencePosition, error) {
	return s.es.TailPosition(ctx)
}

func (s *catchupSession) RegisterHandlers(ctx context.Context, handlerIDs []string) error {
	sqlQuery, err := s.es.buildRegisterHandlersQuery(handlerIDs)
	if err != nil {
		return err
	}

	s.es.logDebug(sqlQuery)

	if _, execErr := s.es.querier().ExecContext(ctx, sqlQuery); execErr != nil {
		return classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, execErr))
	}

	return nil
}

func (s *catchupSession) LockBookmarks(
	ctx context.Context,
	handlerIDs []string,
) (map[string]eventstore.SequencePosition, error) {

	if err := s.tryLock(handlerIDs); err != nil {
		return nil, err
	}

	return s.es.selectBookmarks(ctx, handlerIDs)
}

func (s *catchupSession) AdvanceBookmarks(ctx context.Context, positions map[string]eventstore.SequencePosition) error {
	sqlQuery, err := s.es.buildAdvanceBookmarksQuery(positions)
	if err != nil {
		return err
	}

	s.es.logDebug(sqlQuery)

	if _, execErr := s.es.querier().ExecContext(ctx, sqlQuery); execErr != nil {
		return classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, execErr))
	}

	return nil
}

func (s *catchupSession) tryLock(handlerIDs []string) error {
	s.es.locks.mu.Lock()
	defer s.es.locks.mu.Unlock()

	for _, id := range handlerIDs {
		if _, ok := s.es.locks.locked[id]; ok {
			return fmt.Errorf("%w: %q", eventstore.ErrHandlerLocked, id)
		}
	}

	for _, id := range handlerIDs {
		s.es.locks.locked[id] = struct{}{}
		s.held = append(s.held, id)
	}

	return nil
}

func (s *catchupSession) release() {
	s.es.locks.mu.Lock()
	defer s.es.locks.mu.Unlock()

	for _, id := range s.held {
		delete(s.es.locks.locked, id)
	}
}

func (es *EventStore) selectBookmarks(ctx context.Context, handlerIDs []string) (map[string]eventstore.SequencePosition, error) {
	sqlQuery, err := es.buildSelectBookmarksQuery(handlerIDs)
	if err != nil {
		return nil, err
	}

	es.logDebug(sqlQuery)

	rows, err := es.querier().QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, classifyError(errors.Join(eventstore.ErrBookmarkOperationFailed, err))
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
		return nil, errors.Join(eventstore.ErrBookmarkOperationFailed, rowsErr)
	}

	return positions, nil
}
