package coursesubscription

import (
	"github.com/AntonStoeckl/dcb-eventstore-go/decisionmodel"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	stateCourse               = "course"
	stateCourseSubscriptions  = "courseSubscriptions"
	stateStudentRegistered    = "studentRegistered"
	stateStudentSubscriptions = "studentSubscriptions"
	stateAlreadySubscribed    = "alreadySubscribed"
)

// courseState is the course as far as capacity decisions are concerned.
type courseState struct {
	defined  bool
	capacity int
	err      error
}

func courseStateHandler(courseID string) *decisionmodel.Handler[courseState] {
	return decisionmodel.NewHandler(
		courseState{},
		map[string]decisionmodel.Fold[courseState]{
			CourseDefinedEventType: func(_ courseState, envelope eventstore.EventEnvelope) courseState {
				payload, err := PayloadOf[CourseDefined](envelope)
				return courseState{defined: true, capacity: payload.Capacity, err: err}
			},
			CourseCapacityChangedEventType: func(state courseState, envelope eventstore.EventEnvelope) courseState {
				payload, err := PayloadOf[CourseCapacityChanged](envelope)
				if err != nil {
					state.err = err
					return state
				}

				state.capacity = payload.NewCapacity

				return state
			},
		},
		decisionmodel.WithTagFilter(courseTags(courseID)),
	)
}

func countingHandler(eventType string, tags eventstore.Tags) *decisionmodel.Handler[int] {
	return decisionmodel.NewHandler(
		0,
		map[string]decisionmodel.Fold[int]{
			eventType: func(count int, _ eventstore.EventEnvelope) int { return count + 1 },
		},
		decisionmodel.WithTagFilter(tags),
	)
}

// existsHandler only needs the newest matching event to know whether there is one.
func existsHandler(eventType string, tags eventstore.Tags) *decisionmodel.Handler[bool] {
	return decisionmodel.NewHandler(
		false,
		map[string]decisionmodel.Fold[bool]{
			eventType: func(bool, eventstore.EventEnvelope) bool { return true },
		},
		decisionmodel.WithTagFilter(tags),
		decisionmodel.OnlyLastEvent(),
	)
}
