package eventstoretest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// FixtureEvent builds a valid event or fails the test.
func FixtureEvent(t testing.TB, eventType string, tags ...string) eventstore.Event {
	t.Helper()

	event, err := eventstore.BuildEvent(
		eventType,
		eventstore.MustTagsFrom(tags...),
		[]byte(fmt.Sprintf(`{"type":%q}`, eventType)),
		[]byte(`{"source":"eventstoretest"}`),
	)
	require.NoError(t, err)

	return event
}

// GivenEventsWereAppended appends events unconditionally and returns the envelopes.
func GivenEventsWereAppended(t testing.TB, store eventstore.EventAppender, events ...eventstore.Event) []eventstore.EventEnvelope {
	t.Helper()

	envelopes, err := store.Append(t.Context(), events, nil)
	require.NoError(t, err)

	return envelopes
}

// ReadAll collects the result of a read or fails the test.
func ReadAll(
	t testing.TB,
	store eventstore.EventReader,
	query eventstore.Query,
	options ...eventstore.ReadOption,
) []eventstore.EventEnvelope {

	t.Helper()

	envelopes, err := eventstore.Collect(store.Read(t.Context(), query, options...))
	require.NoError(t, err)

	return envelopes
}

// Positions extracts the positions of envelopes.
func Positions(envelopes []eventstore.EventEnvelope) []eventstore.SequencePosition {
	positions := make([]eventstore.SequencePosition, 0, len(envelopes))
	for _, envelope := range envelopes {
		positions = append(positions, envelope.SequencePosition)
	}

	return positions
}

func positions(ps ...uint64) []eventstore.SequencePosition {
	result := make([]eventstore.SequencePosition, 0, len(ps))
	for _, p := range ps {
		result = append(result, eventstore.SequencePosition(p))
	}

	return result
}
