package eventstoretest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// CatchupRunner is implemented by engines that can run a catch-up within their own transaction or lock scope.
type CatchupRunner interface {
	CatchupHandlers(ctx context.Context, registry *catchup.Registry, options ...catchup.Option) (catchup.Report, error)
}

// CatchupFactory returns a fresh, empty store and its catch-up runner.
type CatchupFactory func(t *testing.T) (eventstore.EventStore, CatchupRunner)

// recorder is a handler callback target collecting delivered positions per event type.
type recorder struct {
	mu        sync.Mutex
	delivered []eventstore.SequencePosition
}

func (r *recorder) record(_ context.Context, envelope eventstore.EventEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delivered = append(r.delivered, envelope.SequencePosition)

	return nil
}

func (r *recorder) positions() []eventstore.SequencePosition {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]eventstore.SequencePosition{}, r.delivered...)
}

//nolint:funlen
func RunCatchupSuite(t *testing.T, newStore CatchupFactory) {
	t.Run("delivers_handled_types_in_order_and_is_idempotent", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		GivenEventsWereAppended(t, store,
			FixtureEvent(t, "A"), FixtureEvent(t, "B"), FixtureEvent(t, "A"), FixtureEvent(t, "C"),
		)
		rec := &recorder{}
		registry, err := catchup.NewRegistry(catchup.Handler{
			ID:   "a-and-c",
			When: map[string]catchup.Callback{"A": rec.record, "C": rec.record},
		})
		require.NoError(t, err)

		// act
		first, firstErr := runner.CatchupHandlers(t.Context(), registry)
		second, secondErr := runner.CatchupHandlers(t.Context(), registry)

		// assert
		require.NoError(t, firstErr)
		require.NoError(t, secondErr)
		assert.Equal(t, positions(1, 3, 4), rec.positions())
		assert.Equal(t, 3, first.Delivered())
		assert.Equal(t, eventstore.SequencePosition(4), first.Handlers["a-and-c"].To)
		assert.Equal(t, 0, second.Delivered())
	})

	t.Run("resumes_from_bookmark", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		rec := &recorder{}
		registry, err := catchup.NewRegistry(catchup.Handler{ID: "h", When: map[string]catchup.Callback{"A": rec.record}})
		require.NoError(t, err)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"))
		_, err = runner.CatchupHandlers(t.Context(), registry)
		require.NoError(t, err)

		// act
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"), FixtureEvent(t, "A"))
		report, err := runner.CatchupHandlers(t.Context(), registry)

		// assert
		require.NoError(t, err)
		assert.Equal(t, positions(1, 2, 3), rec.positions())
		assert.Equal(t, eventstore.SequencePosition(1), report.Handlers["h"].From)
		assert.Equal(t, 2, report.Delivered())
	})

	t.Run("up_to_limits_the_ceiling", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"), FixtureEvent(t, "A"), FixtureEvent(t, "A"))
		rec := &recorder{}
		registry, err := catchup.NewRegistry(catchup.Handler{ID: "h", When: map[string]catchup.Callback{"A": rec.record}})
		require.NoError(t, err)

		// act
		_, err = runner.CatchupHandlers(t.Context(), registry, catchup.UpTo(2))
		require.NoError(t, err)
		_, err = runner.CatchupHandlers(t.Context(), registry)

		// assert
		require.NoError(t, err)
		assert.Equal(t, positions(1, 2, 3), rec.positions())
	})

	t.Run("failure_advances_no_bookmark", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"), FixtureEvent(t, "B"))
		healthy := &recorder{}
		failing := true
		errBoom := errors.New("boom")
		registry, err := catchup.NewRegistry(
			catchup.Handler{ID: "healthy", When: map[string]catchup.Callback{"A": healthy.record}},
			catchup.Handler{ID: "flaky", When: map[string]catchup.Callback{"B": func(ctx context.Context, _ eventstore.EventEnvelope) error {
				if failing {
					return errBoom
				}
				return nil
			}}},
		)
		require.NoError(t, err)

		// act
		_, firstErr := runner.CatchupHandlers(t.Context(), registry)
		failing = false
		_, secondErr := runner.CatchupHandlers(t.Context(), registry)

		// assert
		assert.ErrorIs(t, firstErr, errBoom)
		assert.ErrorIs(t, firstErr, catchup.ErrHandlerFailed)
		assert.NoError(t, secondErr)
		assert.Equal(t, positions(1, 1), healthy.positions(), "at-least-once: redelivered after the failed run")
	})

	t.Run("empty_registry_is_a_noop", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"))

		_, err := catchup.NewRegistry()
		require.ErrorIs(t, err, catchup.ErrNoHandlers)

		// act
		report, runErr := runner.CatchupHandlers(t.Context(), &catchup.Registry{})

		// assert
		require.NoError(t, runErr)
		assert.Empty(t, report.Handlers)
		assert.Zero(t, report.Delivered())
	})

	t.Run("concurrent_run_for_same_handler_fails_fast", func(t *testing.T) {
		// arrange
		store, runner := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"))
		var innerErr error
		var registry *catchup.Registry
		registry, err := catchup.NewRegistry(catchup.Handler{
			ID: "h",
			When: map[string]catchup.Callback{"A": func(ctx context.Context, _ eventstore.EventEnvelope) error {
				_, innerErr = runner.CatchupHandlers(ctx, registry)
				return nil
			}},
		})
		require.NoError(t, err)

		// act
		_, outerErr := runner.CatchupHandlers(t.Context(), registry)

		// assert
		assert.NoError(t, outerErr)
		assert.ErrorIs(t, innerErr, eventstore.ErrHandlerLocked)
	})
}
