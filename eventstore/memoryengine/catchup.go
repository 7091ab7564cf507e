package memoryengine

import (
	"context"
	"fmt"
	"iter"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// CatchupHandlers runs a catch-up for all handlers of the registry.
// Bookmarks are try-locked per handler id, concurrent runs touching the same handler fail with eventstore.ErrHandlerLocked.
func (es *EventStore) CatchupHandlers(
	ctx context.Context,
	registry *catchup.Registry,
	options ...catchup.Option,
) (catchup.Report, error) {

	session := &catchupSession{es: es}
	defer session.release()

	report, err := catchup.Run(ctx, session, registry, options...)
	if err != nil {
		return catchup.Report{}, err
	}

	session.commit()

	return report, nil
}

// Bookmark returns the committed position of a handler, zero if it was never registered.
func (es *EventStore) Bookmark(handlerID string) eventstore.SequencePosition {
	es.bookmarksMu.Lock()
	defer es.bookmarksMu.Unlock()

	return es.bookmarks[handlerID]
}

// catchupSession plays the role of a transaction: locks are held until release, advances apply on commit.
type catchupSession struct {
	es      *EventStore
	held    []string
	pending map[string]eventstore.SequencePosition
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

func (s *catchupSession) RegisterHandlers(_ context.Context, handlerIDs []string) error {
	s.es.bookmarksMu.Lock()
	defer s.es.bookmarksMu.Unlock()

	for _, id := range handlerIDs {
		if _, ok := s.es.bookmarks[id]; !ok {
			s.es.bookmarks[id] = 0
		}
	}

	return nil
}

func (s *catchupSession) LockBookmarks(
	_ context.Context,
	handlerIDs []string,
) (map[string]eventstore.SequencePosition, error) {

	s.es.bookmarksMu.Lock()
	defer s.es.bookmarksMu.Unlock()

	for _, id := range handlerIDs {
		if _, ok := s.es.locked[id]; ok {
			return nil, fmt.Errorf("%w: %q", eventstore.ErrHandlerLocked, id)
		}
	}

	positions := make(map[string]eventstore.SequencePosition, len(handlerIDs))
	for _, id := range handlerIDs {
		s.es.locked[id] = struct{}{}
		s.held = append(s.held, id)
		positions[id] = s.es.bookmarks[id]
	}

	return positions, nil
}

func (s *catchupSession) AdvanceBookmarks(_ context.Context, positions map[string]eventstore.SequencePosition) error {
	s.pending = positions

	return nil
}

func (s *catchupSession) commit() {
	s.es.bookmarksMu.Lock()
	defer s.es.bookmarksMu.Unlock()

	for id, position := range s.pending {
		s.es.bookmarks[id] = position
	}
}

func (s *catchupSession) release() {
	s.es.bookmarksMu.Lock()
	defer s.es.bookmarksMu.Unlock()

	for _, id := range s.held {
		delete(s.es.locked, id)
	}
}
