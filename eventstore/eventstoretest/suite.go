package eventstoretest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) eventstore.EventStore

//nolint:funlen
func RunEventStoreSuite(t *testing.T, newStore Factory) {
	t.Run("positions_start_at_one_and_increase_by_one", func(t *testing.T) {
		// arrange
		store := newStore(t)

		// act
		first := GivenEventsWereAppended(t, store, FixtureEvent(t, "A"), FixtureEvent(t, "B"))
		second := GivenEventsWereAppended(t, store, FixtureEvent(t, "C"))

		// assert
		assert.Equal(t, positions(1, 2), Positions(first))
		assert.Equal(t, positions(3), Positions(second))
		assert.Equal(t, positions(1, 2, 3), Positions(ReadAll(t, store, eventstore.QueryAll())))
	})

	t.Run("appended_events_read_back_unchanged", func(t *testing.T) {
		// arrange
		store := newStore(t)
		event := FixtureEvent(t, "CourseDefined", "course=c1", "faculty=math")

		// act
		appended := GivenEventsWereAppended(t, store, event)
		query := eventstore.BuildQuery().
			Matching().
			AnyEventTypeOf("CourseDefined").
			AndAllTagsOf(eventstore.MustTagsFrom("course=c1")).
			Finalize()
		read := ReadAll(t, store, query)

		// assert
		require.Len(t, read, 1)
		assert.Equal(t, appended[0].SequencePosition, read[0].SequencePosition)
		assert.Equal(t, "CourseDefined", read[0].Event.Type())
		assert.Equal(t, []string{"course=c1", "faculty=math"}, read[0].Event.Tags().Strings())
		assert.JSONEq(t, string(event.Data()), string(read[0].Event.Data()))
		assert.JSONEq(t, string(event.Metadata()), string(read[0].Event.Metadata()))
		assert.False(t, read[0].RecordedAt.IsZero())
	})

	t.Run("appending_nothing_is_a_noop", func(t *testing.T) {
		store := newStore(t)

		envelopes, err := store.Append(t.Context(), nil, nil)

		assert.NoError(t, err)
		assert.Empty(t, envelopes)
		assert.Empty(t, ReadAll(t, store, eventstore.QueryAll()))
	})

	t.Run("append_condition", func(t *testing.T) {
		courseQuery := eventstore.BuildQuery().
			Matching().
			AllTagsOf(eventstore.MustTagsFrom("course=c1")).
			Finalize()

		tests := []struct {
			name      string
			existing  []eventstore.Event
			condition *eventstore.AppendCondition
			conflict  bool
		}{
			{
				name:      "empty_store_and_zero_ceiling",
				condition: eventstore.NewAppendCondition(courseQuery, 0),
			},
			{
				name:      "matching_event_after_ceiling",
				existing:  []eventstore.Event{FixtureEvent(t, "X", "course=c1")},
				condition: eventstore.NewAppendCondition(courseQuery, 0),
				conflict:  true,
			},
			{
				name:      "matching_event_at_ceiling",
				existing:  []eventstore.Event{FixtureEvent(t, "X", "course=c1")},
				condition: eventstore.NewAppendCondition(courseQuery, 1),
			},
			{
				name:      "non_matching_event_after_ceiling",
				existing:  []eventstore.Event{FixtureEvent(t, "X", "course=c2")},
				condition: eventstore.NewAppendCondition(courseQuery, 0),
			},
			{
				name:      "all_query_with_any_event_after_ceiling",
				existing:  []eventstore.Event{FixtureEvent(t, "X", "course=c2")},
				condition: eventstore.NewAppendCondition(eventstore.QueryAll(), 0),
				conflict:  true,
			},
			{
				name:      "ceiling_beyond_tail",
				existing:  []eventstore.Event{FixtureEvent(t, "X", "course=c1")},
				condition: eventstore.NewAppendCondition(courseQuery, 99),
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				// arrange
				store := newStore(t)
				if len(tc.existing) > 0 {
					GivenEventsWereAppended(t, store, tc.existing...)
				}

				// act
				envelopes, err := store.Append(t.Context(), []eventstore.Event{FixtureEvent(t, "Y", "course=c1")}, tc.condition)

				// assert
				if tc.conflict {
					assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
					assert.Empty(t, envelopes)
					assert.Len(t, ReadAll(t, store, eventstore.QueryAll()), len(tc.existing))
				} else {
					assert.NoError(t, err)
					assert.Len(t, envelopes, 1)
				}
			})
		}
	})

	t.Run("failed_append_consumes_no_positions", func(t *testing.T) {
		// arrange
		store := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A", "course=c1"))
		query := eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("course=c1")).Finalize()

		// act
		_, conflictErr := store.Append(
			t.Context(),
			[]eventstore.Event{FixtureEvent(t, "B", "course=c1"), FixtureEvent(t, "C", "course=c1")},
			eventstore.NewAppendCondition(query, 0),
		)
		next := GivenEventsWereAppended(t, store, FixtureEvent(t, "D"))

		// assert
		assert.ErrorIs(t, conflictErr, eventstore.ErrConcurrencyConflict)
		assert.Equal(t, positions(2), Positions(next))
	})

	t.Run("read_selection", func(t *testing.T) {
		// arrange
		store := newStore(t)
		GivenEventsWereAppended(t, store,
			FixtureEvent(t, "A", "x=1"),
			FixtureEvent(t, "B", "x=1"),
			FixtureEvent(t, "A", "x=2"),
			FixtureEvent(t, "A", "x=1", "y=1"),
			FixtureEvent(t, "C"),
		)

		tests := []struct {
			name     string
			query    eventstore.Query
			options  []eventstore.ReadOption
			expected []eventstore.SequencePosition
		}{
			{
				name:     "all",
				query:    eventstore.QueryAll(),
				expected: positions(1, 2, 3, 4, 5),
			},
			{
				name:     "all_backwards_from_with_limit",
				query:    eventstore.QueryAll(),
				options:  []eventstore.ReadOption{eventstore.Backwards(), eventstore.FromSequencePosition(4), eventstore.Limit(2)},
				expected: positions(4, 3),
			},
			{
				name:     "types",
				query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("B", "C").Finalize(),
				expected: positions(2, 5),
			},
			{
				name:     "tag_superset",
				query:    eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("y=1", "x=1")).Finalize(),
				expected: positions(4),
			},
			{
				name: "union_deduplicated",
				query: eventstore.BuildQuery().
					Matching().AnyEventTypeOf("A").
					OrMatching().AllTagsOf(eventstore.MustTagsFrom("x=1")).
					Finalize(),
				expected: positions(1, 2, 3, 4),
			},
			{
				name:     "only_last_event",
				query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").AndAllTagsOf(eventstore.MustTagsFrom("x=1")).OnlyLastEvent().Finalize(),
				expected: positions(4),
			},
			{
				name: "only_last_event_per_item",
				query: eventstore.BuildQuery().
					Matching().AnyEventTypeOf("A").OnlyLastEvent().
					OrMatching().AnyEventTypeOf("B").
					Finalize(),
				expected: positions(2, 4),
			},
			{
				name:     "only_last_event_respects_range",
				query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").OnlyLastEvent().Finalize(),
				options:  []eventstore.ReadOption{eventstore.Backwards(), eventstore.FromSequencePosition(3)},
				expected: positions(3),
			},
			{
				name:     "from_is_inclusive",
				query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").Finalize(),
				options:  []eventstore.ReadOption{eventstore.FromSequencePosition(3)},
				expected: positions(3, 4),
			},
			{
				name:     "limit_after_ordering_backwards",
				query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").Finalize(),
				options:  []eventstore.ReadOption{eventstore.Backwards(), eventstore.Limit(2)},
				expected: positions(4, 3),
			},
			{
				name:     "no_match",
				query:    eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("x=3")).Finalize(),
				expected: positions(),
			},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, Positions(ReadAll(t, store, tc.query, tc.options...)))
			})
		}
	})

	t.Run("invalid_read_options_fail_the_read", func(t *testing.T) {
		store := newStore(t)

		_, err := eventstore.Collect(store.Read(t.Context(), eventstore.QueryAll(), eventstore.Limit(-1)))

		assert.ErrorIs(t, err, eventstore.ErrValidation)
	})

	t.Run("zero_query_is_rejected_by_read_and_append", func(t *testing.T) {
		// arrange
		store := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"), FixtureEvent(t, "B"))

		var zero eventstore.Query

		// act
		read, readErr := eventstore.Collect(store.Read(t.Context(), zero))
		appended, appendErr := store.Append(
			t.Context(),
			[]eventstore.Event{FixtureEvent(t, "C")},
			eventstore.NewAppendCondition(zero, 0),
		)

		// assert
		assert.Empty(t, read)
		assert.ErrorIs(t, readErr, eventstore.ErrValidation)
		assert.ErrorIs(t, readErr, eventstore.ErrEmptyQuery)
		assert.Nil(t, appended)
		assert.ErrorIs(t, appendErr, eventstore.ErrValidation)
		assert.ErrorIs(t, appendErr, eventstore.ErrEmptyQuery)
		assert.NotErrorIs(t, appendErr, eventstore.ErrConcurrencyConflict)
		assert.Len(t, ReadAll(t, store, eventstore.QueryAll()), 2)
	})

	t.Run("read_can_be_stopped_early", func(t *testing.T) {
		// arrange
		store := newStore(t)
		events := make([]eventstore.Event, 0, 250)
		for range 250 {
			events = append(events, FixtureEvent(t, "A"))
		}
		GivenEventsWereAppended(t, store, events...)

		// act
		seen := 0
		for _, err := range store.Read(t.Context(), eventstore.QueryAll()) {
			require.NoError(t, err)
			seen++
			if seen == 3 {
				break
			}
		}
		afterBreak := GivenEventsWereAppended(t, store, FixtureEvent(t, "B"))

		// assert
		assert.Equal(t, 3, seen)
		assert.Equal(t, positions(251), Positions(afterBreak))
		assert.Len(t, ReadAll(t, store, eventstore.QueryAll()), 251)
	})

	t.Run("concurrent_conflicting_appends_exactly_one_succeeds", func(t *testing.T) {
		// arrange
		store := newStore(t)
		query := eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("slot=1")).Finalize()
		event := FixtureEvent(t, "SlotTaken", "slot=1")
		var successes, conflicts atomic.Int32
		group, ctx := errgroup.WithContext(t.Context())

		// act
		for range 10 {
			group.Go(func() error {
				_, err := store.Append(
					ctx,
					[]eventstore.Event{event},
					eventstore.NewAppendCondition(query, 0),
				)

				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, eventstore.ErrConcurrencyConflict):
					conflicts.Add(1)
				default:
					return err
				}

				return nil
			})
		}

		// assert
		require.NoError(t, group.Wait())
		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(9), conflicts.Load())
		assert.Len(t, ReadAll(t, store, query), 1)
	})

	t.Run("read_honors_canceled_context", func(t *testing.T) {
		store := newStore(t)
		GivenEventsWereAppended(t, store, FixtureEvent(t, "A"))
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := eventstore.Collect(store.Read(ctx, eventstore.QueryAll()))

		assert.ErrorIs(t, err, context.Canceled)
	})
}
