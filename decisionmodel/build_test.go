package decisionmodel_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/dcb-eventstore-go/decisionmodel"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/eventstoretest"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/memoryengine"
)

func countEvents(count int, _ eventstore.EventEnvelope) int {
	return count + 1
}

func rememberPosition(_ eventstore.SequencePosition, envelope eventstore.EventEnvelope) eventstore.SequencePosition {
	return envelope.SequencePosition
}

func givenCourseHistory(t *testing.T) *memoryengine.EventStore {
	t.Helper()

	store := memoryengine.NewEventStore()
	eventstoretest.GivenEventsWereAppended(
		t,
		store,
		eventstoretest.FixtureEvent(t, "CourseDefined", "course=c1"),                   // 1
		eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s1"), // 2
		eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c2", "student=s1"), // 3
		eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s2"), // 4
		eventstoretest.FixtureEvent(t, "CourseCapacityChanged", "course=c1"),           // 5
		eventstoretest.FixtureEvent(t, "CourseCapacityChanged", "course=c1"),           // 6
		eventstoretest.FixtureEvent(t, "Unrelated", "course=c1"),                       // 7
	)

	return store
}

func Test_Build(t *testing.T) {
	// arrange
	store := givenCourseHistory(t)
	handlers := map[string]decisionmodel.StateHandler{
		"subscriptions": decisionmodel.NewHandler(
			0,
			map[string]decisionmodel.Fold[int]{"StudentSubscribed": countEvents},
			decisionmodel.WithTagFilter(eventstore.MustTagsFrom("course=c1")),
		),
		"studentSubscriptions": decisionmodel.NewHandler(
			0,
			map[string]decisionmodel.Fold[int]{"StudentSubscribed": countEvents},
			decisionmodel.WithTagFilter(eventstore.MustTagsFrom("student=s1")),
		),
		"lastCapacityChange": decisionmodel.NewHandler(
			eventstore.SequencePosition(0),
			map[string]decisionmodel.Fold[eventstore.SequencePosition]{"CourseCapacityChanged": rememberPosition},
			decisionmodel.WithTagFilter(eventstore.MustTagsFrom("course=c1")),
			decisionmodel.OnlyLastEvent(),
		),
	}

	// act
	model, err := decisionmodel.Build(t.Context(), store, handlers)

	// assert
	require.NoError(t, err)

	subscriptions, err := decisionmodel.StateOf[int](model, "subscriptions")
	require.NoError(t, err)
	assert.Equal(t, 2, subscriptions)

	studentSubscriptions, err := decisionmodel.StateOf[int](model, "studentSubscriptions")
	require.NoError(t, err)
	assert.Equal(t, 2, studentSubscriptions)

	lastCapacityChange, err := decisionmodel.StateOf[eventstore.SequencePosition](model, "lastCapacityChange")
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequencePosition(6), lastCapacityChange)

	require.NotNil(t, model.AppendCondition())
	assert.Equal(t, eventstore.SequencePosition(6), model.AppendCondition().ExpectedCeiling)
	assert.Len(t, model.AppendCondition().Query.Items(), 3)
}

func Test_Build_OnlyLastEventHandlerSeesNewestMatch(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	eventstoretest.GivenEventsWereAppended(
		t,
		store,
		eventstoretest.FixtureEvent(t, "A", "course=c1"),
		eventstoretest.FixtureEvent(t, "A", "course=c1"),
	)
	handlers := map[string]decisionmodel.StateHandler{
		"lastA": decisionmodel.NewHandler(
			eventstore.SequencePosition(0),
			map[string]decisionmodel.Fold[eventstore.SequencePosition]{"A": rememberPosition},
			decisionmodel.OnlyLastEvent(),
		),
	}

	// act
	model, err := decisionmodel.Build(t.Context(), store, handlers)

	// assert
	require.NoError(t, err)
	assert.Equal(t, eventstore.SequencePosition(2), model.AppendCondition().ExpectedCeiling)
}

func Test_Build_EmptyStore(t *testing.T) {
	// arrange
	store := memoryengine.NewEventStore()
	handler := decisionmodel.NewHandler(false, map[string]decisionmodel.Fold[bool]{
		"CourseDefined": func(bool, eventstore.EventEnvelope) bool { return true },
	})

	// act
	exists, condition, err := decisionmodel.Reconstitute(t.Context(), store, handler)

	// assert
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, eventstore.SequencePosition(0), condition.ExpectedCeiling)
}

func Test_Build_ConditionDetectsLaterRelevantAppend(t *testing.T) {
	// arrange
	store := givenCourseHistory(t)
	handler := decisionmodel.NewHandler(
		0,
		map[string]decisionmodel.Fold[int]{"StudentSubscribed": countEvents},
		decisionmodel.WithTagFilter(eventstore.MustTagsFrom("course=c1")),
	)
	_, condition, err := decisionmodel.Reconstitute(t.Context(), store, handler)
	require.NoError(t, err)
	eventstoretest.GivenEventsWereAppended(t, store, eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s3"))

	// act
	_, appendErr := store.Append(
		t.Context(),
		[]eventstore.Event{eventstoretest.FixtureEvent(t, "StudentSubscribed", "course=c1", "student=s4")},
		condition,
	)

	// assert
	assert.ErrorIs(t, appendErr, eventstore.ErrConcurrencyConflict)
}

func Test_Build_IsDeterministic(t *testing.T) {
	store := givenCourseHistory(t)
	handlers := map[string]decisionmodel.StateHandler{
		"positions": decisionmodel.NewHandler(
			[]eventstore.SequencePosition(nil),
			map[string]decisionmodel.Fold[[]eventstore.SequencePosition]{
				"StudentSubscribed": func(state []eventstore.SequencePosition, envelope eventstore.EventEnvelope) []eventstore.SequencePosition {
					return append(state, envelope.SequencePosition)
				},
			},
		),
	}

	first, err := decisionmodel.Build(t.Context(), store, handlers)
	require.NoError(t, err)
	second, err := decisionmodel.Build(t.Context(), store, handlers)
	require.NoError(t, err)

	firstState, _ := first.State("positions")
	secondState, _ := second.State("positions")
	assert.Equal(t, []eventstore.SequencePosition{2, 3, 4}, firstState)
	assert.Equal(t, firstState, secondState)
}

func Test_Build_RejectsInvalidHandlers(t *testing.T) {
	testCases := []struct {
		name     string
		handlers map[string]decisionmodel.StateHandler
		wantErr  error
	}{
		{
			name:     "no handlers",
			handlers: map[string]decisionmodel.StateHandler{},
			wantErr:  decisionmodel.ErrNoHandlers,
		},
		{
			name: "no event types",
			handlers: map[string]decisionmodel.StateHandler{
				"empty": decisionmodel.NewHandler(0, map[string]decisionmodel.Fold[int]{}),
			},
			wantErr: decisionmodel.ErrNoEventTypes,
		},
		{
			name: "nil fold",
			handlers: map[string]decisionmodel.StateHandler{
				"nil": decisionmodel.NewHandler(0, map[string]decisionmodel.Fold[int]{"A": nil}),
			},
			wantErr: decisionmodel.ErrNilFold,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decisionmodel.Build(t.Context(), memoryengine.NewEventStore(), tc.handlers)

			assert.ErrorIs(t, err, eventstore.ErrValidation)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func Test_StateOf_Errors(t *testing.T) {
	model, err := decisionmodel.Build(
		t.Context(),
		memoryengine.NewEventStore(),
		map[string]decisionmodel.StateHandler{
			"count": decisionmodel.NewHandler(0, map[string]decisionmodel.Fold[int]{"A": countEvents}),
		},
	)
	require.NoError(t, err)

	_, unknownErr := decisionmodel.StateOf[int](model, "missing")
	_, mismatchErr := decisionmodel.StateOf[string](model, "count")

	assert.True(t, errors.Is(unknownErr, decisionmodel.ErrUnknownHandler))
	assert.True(t, errors.Is(mismatchErr, decisionmodel.ErrStateTypeMismatch))
}
