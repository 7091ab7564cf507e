package memoryengine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/eventstoretest"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/memoryengine"
)

func Test_MemoryEngine_EventStoreSuite(t *testing.T) {
	eventstoretest.RunEventStoreSuite(t, func(t *testing.T) eventstore.EventStore {
		return memoryengine.NewEventStore()
	})
}

func Test_MemoryEngine_CatchupSuite(t *testing.T) {
	eventstoretest.RunCatchupSuite(t, func(t *testing.T) (eventstore.EventStore, eventstoretest.CatchupRunner) {
		store := memoryengine.NewEventStore()
		return store, store
	})
}

func Test_MemoryEngine_UsesClockForRecordedAt(t *testing.T) {
	// arrange
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memoryengine.NewEventStore(memoryengine.WithClock(func() time.Time { return fixed }))

	// act
	envelopes := eventstoretest.GivenEventsWereAppended(t, store, eventstoretest.FixtureEvent(t, "A"))

	// assert
	assert.Equal(t, fixed, envelopes[0].RecordedAt)
}

func Test_MemoryEngine_RejectsZeroValueEvent(t *testing.T) {
	store := memoryengine.NewEventStore()

	_, err := store.Append(t.Context(), []eventstore.Event{{}}, nil)

	assert.ErrorIs(t, err, eventstore.ErrValidation)
	assert.ErrorIs(t, err, eventstore.ErrEmptyEventType)
}

func Test_MemoryEngine_BookmarkIsCommittedOnlyOnSuccess(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	eventstoretest.GivenEventsWereAppended(t, store, eventstoretest.FixtureEvent(t, "A"), eventstoretest.FixtureEvent(t, "A"))
	fail := true
	registry, err := catchup.NewRegistry(catchup.Handler{
		ID: "h",
		When: map[string]catchup.Callback{"A": func(_ context.Context, envelope eventstore.EventEnvelope) error {
			if fail && envelope.SequencePosition == 2 {
				return errors.New("boom")
			}
			return nil
		}},
	})
	require.NoError(t, err)

	// act
	_, failedErr := store.CatchupHandlers(t.Context(), registry)
	afterFailure := store.Bookmark("h")
	fail = false
	_, okErr := store.CatchupHandlers(t.Context(), registry)

	// assert
	assert.Error(t, failedErr)
	assert.NoError(t, okErr)
	assert.Equal(t, eventstore.SequencePosition(0), afterFailure)
	assert.Equal(t, eventstore.SequencePosition(2), store.Bookmark("h"))
}
