package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

func givenEnvelope(t *testing.T, position uint64, eventType string, tags ...string) eventstore.EventEnvelope {
	t.Helper()

	event, err := eventstore.BuildEventWithEmptyMetadata(eventType, eventstore.MustTagsFrom(tags...), nil)
	assert.NoError(t, err)

	return eventstore.EventEnvelope{Event: event, SequencePosition: eventstore.SequencePosition(position)}
}

func positionsOf(envelopes []eventstore.EventEnvelope) []uint64 {
	positions := make([]uint64, 0, len(envelopes))
	for _, envelope := range envelopes {
		positions = append(positions, uint64(envelope.SequencePosition))
	}

	return positions
}

//nolint:funlen
func Test_SelectEvents(t *testing.T) {
	log := []eventstore.EventEnvelope{
		givenEnvelope(t, 1, "A", "x=1"),
		givenEnvelope(t, 2, "B", "x=1"),
		givenEnvelope(t, 3, "A", "x=2"),
		givenEnvelope(t, 4, "A", "x=1", "y=1"),
		givenEnvelope(t, 5, "C"),
	}

	onlyLastA := eventstore.BuildQuery().Matching().AnyEventTypeOf("A").OnlyLastEvent().Finalize()

	tests := []struct {
		name     string
		query    eventstore.Query
		options  []eventstore.ReadOption
		expected []uint64
	}{
		{
			name:     "all_forwards",
			query:    eventstore.QueryAll(),
			expected: []uint64{1, 2, 3, 4, 5},
		},
		{
			name:     "all_backwards_with_limit",
			query:    eventstore.QueryAll(),
			options:  []eventstore.ReadOption{eventstore.Backwards(), eventstore.Limit(2)},
			expected: []uint64{5, 4},
		},
		{
			name:     "from_is_inclusive_forwards",
			query:    eventstore.QueryAll(),
			options:  []eventstore.ReadOption{eventstore.FromSequencePosition(3)},
			expected: []uint64{3, 4, 5},
		},
		{
			name:     "from_is_inclusive_upper_bound_backwards",
			query:    eventstore.QueryAll(),
			options:  []eventstore.ReadOption{eventstore.FromSequencePosition(3), eventstore.Backwards()},
			expected: []uint64{3, 2, 1},
		},
		{
			name:     "tags_are_a_superset_filter",
			query:    eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("x=1")).Finalize(),
			expected: []uint64{1, 2, 4},
		},
		{
			name:     "union_is_deduplicated",
			query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").OrMatching().AllTagsOf(eventstore.MustTagsFrom("x=1")).Finalize(),
			expected: []uint64{1, 2, 3, 4},
		},
		{
			name:     "only_last_event",
			query:    onlyLastA,
			expected: []uint64{4},
		},
		{
			name:     "only_last_event_within_range",
			query:    onlyLastA,
			options:  []eventstore.ReadOption{eventstore.FromSequencePosition(3), eventstore.Backwards()},
			expected: []uint64{3},
		},
		{
			name:     "only_last_event_is_per_item",
			query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").OnlyLastEvent().OrMatching().AnyEventTypeOf("B").Finalize(),
			expected: []uint64{2, 4},
		},
		{
			name:     "limit_applies_after_ordering",
			query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("A").Finalize(),
			options:  []eventstore.ReadOption{eventstore.Limit(2)},
			expected: []uint64{1, 3},
		},
		{
			name:     "no_match",
			query:    eventstore.BuildQuery().Matching().AnyEventTypeOf("Z").Finalize(),
			expected: []uint64{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			options, err := eventstore.BuildReadOptions(tc.options...)
			assert.NoError(t, err)

			// act
			selected := eventstore.SelectEvents(log, tc.query, options)

			// assert
			assert.Equal(t, tc.expected, positionsOf(selected))
		})
	}
}

func Test_AppendCondition_IsViolatedBy(t *testing.T) {
	query := eventstore.BuildQuery().Matching().AllTagsOf(eventstore.MustTagsFrom("x=1")).Finalize()
	condition := eventstore.NewAppendCondition(query, 2)

	assert.False(t, condition.IsViolatedBy(givenEnvelope(t, 2, "A", "x=1")))
	assert.False(t, condition.IsViolatedBy(givenEnvelope(t, 3, "A", "x=2")))
	assert.True(t, condition.IsViolatedBy(givenEnvelope(t, 3, "A", "x=1")))
}
