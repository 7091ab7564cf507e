package coursesubscription

import (
	"context"
	"fmt"

	"github.com/AntonStoeckl/dcb-eventstore-go/command"
	"github.com/AntonStoeckl/dcb-eventstore-go/decisionmodel"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// CommandHandler runs the course commands against an event store.
// Each Handle method builds its own decision model, so each command has its own consistency boundary.
type CommandHandler struct {
	store   eventstore.EventStore
	options []command.Option
}

// NewCommandHandler creates a CommandHandler. The options apply to every command,
// WithCommandType is set per command.
func NewCommandHandler(store eventstore.EventStore, options ...command.Option) CommandHandler {
	return CommandHandler{store: store, options: options}
}

func (h CommandHandler) execute(
	ctx context.Context,
	commandType string,
	handlers map[string]decisionmodel.StateHandler,
	decide command.Decide,
) (command.Result, error) {

	options := append(append([]command.Option{}, h.options...), command.WithCommandType(commandType))

	return command.Execute(ctx, h.store, handlers, decide, options...)
}

// HandleDefineCourse defines a new course.
//
//	ERROR: ErrInvalidCapacity if the capacity is not positive
//	ERROR: ErrCourseAlreadyDefined if a course with this id exists
func (h CommandHandler) HandleDefineCourse(ctx context.Context, cmd DefineCourse) (command.Result, error) {
	courseID := cmd.CourseID.String()

	handlers := map[string]decisionmodel.StateHandler{
		stateCourse: existsHandler(CourseDefinedEventType, courseTags(courseID)),
	}

	decide := func(model decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		if cmd.Capacity <= 0 {
			return nil, ErrInvalidCapacity
		}

		defined, err := decisionmodel.StateOf[bool](model, stateCourse)
		if err != nil {
			return nil, err
		}

		if defined {
			return nil, fmt.Errorf("%w: %s", ErrCourseAlreadyDefined, courseID)
		}

		return singleEvent(
			CourseDefinedEventType,
			[]string{courseTag(courseID)},
			CourseDefined{CourseID: courseID, Title: cmd.Title, Capacity: cmd.Capacity, OccurredAt: cmd.OccurredAt},
		)
	}

	return h.execute(ctx, defineCourseCommandType, handlers, decide)
}

// HandleChangeCourseCapacity changes the capacity of a course. Subscriptions beyond a lowered
// capacity stay, only new ones are rejected.
//
//	ERROR: ErrInvalidCapacity if the capacity is not positive
//	ERROR: ErrCourseNotFound if the course is not defined
//	IDEMPOTENCY: no event if the capacity is unchanged
func (h CommandHandler) HandleChangeCourseCapacity(ctx context.Context, cmd ChangeCourseCapacity) (command.Result, error) {
	courseID := cmd.CourseID.String()

	handlers := map[string]decisionmodel.StateHandler{
		stateCourse: courseStateHandler(courseID),
	}

	decide := func(model decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		if cmd.NewCapacity <= 0 {
			return nil, ErrInvalidCapacity
		}

		course, err := decisionmodel.StateOf[courseState](model, stateCourse)
		if err != nil {
			return nil, err
		}

		switch {
		case course.err != nil:
			return nil, course.err
		case !course.defined:
			return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
		case course.capacity == cmd.NewCapacity:
			return nil, nil
		}

		return singleEvent(
			CourseCapacityChangedEventType,
			[]string{courseTag(courseID)},
			CourseCapacityChanged{CourseID: courseID, NewCapacity: cmd.NewCapacity, OccurredAt: cmd.OccurredAt},
		)
	}

	return h.execute(ctx, changeCourseCapacityCommandType, handlers, decide)
}

// HandleRegisterStudent registers a student.
//
//	ERROR: ErrStudentAlreadyRegistered if a student with this id exists
func (h CommandHandler) HandleRegisterStudent(ctx context.Context, cmd RegisterStudent) (command.Result, error) {
	studentID := cmd.StudentID.String()

	handlers := map[string]decisionmodel.StateHandler{
		stateStudentRegistered: existsHandler(StudentRegisteredEventType, studentTags(studentID)),
	}

	decide := func(model decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		registered, err := decisionmodel.StateOf[bool](model, stateStudentRegistered)
		if err != nil {
			return nil, err
		}

		if registered {
			return nil, fmt.Errorf("%w: %s", ErrStudentAlreadyRegistered, studentID)
		}

		return singleEvent(
			StudentRegisteredEventType,
			[]string{studentTag(studentID)},
			StudentRegistered{StudentID: studentID, Name: cmd.Name, OccurredAt: cmd.OccurredAt},
		)
	}

	return h.execute(ctx, registerStudentCommandType, handlers, decide)
}

// HandleSubscribeStudentToCourse subscribes a registered student to a course with free capacity.
//
//	ERROR: ErrCourseNotFound if the course is not defined
//	ERROR: ErrStudentNotRegistered if the student is not registered
//	ERROR: ErrAlreadySubscribed if the student is already subscribed to the course
//	ERROR: ErrCourseFull if the course has as many subscriptions as its capacity
//	ERROR: ErrTooManySubscriptions if the student has MaxSubscriptionsPerStudent subscriptions
func (h CommandHandler) HandleSubscribeStudentToCourse(ctx context.Context, cmd SubscribeStudentToCourse) (command.Result, error) {
	courseID := cmd.CourseID.String()
	studentID := cmd.StudentID.String()

	handlers := map[string]decisionmodel.StateHandler{
		stateCourse:               courseStateHandler(courseID),
		stateCourseSubscriptions:  countingHandler(StudentSubscribedToCourseEventType, courseTags(courseID)),
		stateStudentRegistered:    existsHandler(StudentRegisteredEventType, studentTags(studentID)),
		stateStudentSubscriptions: countingHandler(StudentSubscribedToCourseEventType, studentTags(studentID)),
		stateAlreadySubscribed: existsHandler(
			StudentSubscribedToCourseEventType,
			eventstore.MustTagsFrom(courseTag(courseID), studentTag(studentID)),
		),
	}

	decide := func(model decisionmodel.DecisionModel) ([]eventstore.Event, error) {
		s, err := subscriptionStateOf(model)
		if err != nil {
			return nil, err
		}

		switch {
		case !s.course.defined:
			return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, courseID)
		case !s.studentRegistered:
			return nil, fmt.Errorf("%w: %s", ErrStudentNotRegistered, studentID)
		case s.alreadySubscribed:
			return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, courseID)
		case s.courseSubscriptions >= s.course.capacity:
			return nil, fmt.Errorf("%w: %s has %d of %d", ErrCourseFull, courseID, s.courseSubscriptions, s.course.capacity)
		case s.studentSubscriptions >= MaxSubscriptionsPerStudent:
			return nil, fmt.Errorf("%w: %s", ErrTooManySubscriptions, studentID)
		}

		return singleEvent(
			StudentSubscribedToCourseEventType,
			[]string{courseTag(courseID), studentTag(studentID)},
			StudentSubscribedToCourse{CourseID: courseID, StudentID: studentID, OccurredAt: cmd.OccurredAt},
		)
	}

	return h.execute(ctx, subscribeStudentToCourseCommandType, handlers, decide)
}

type subscriptionState struct {
	course               courseState
	courseSubscriptions  int
	studentRegistered    bool
	studentSubscriptions int
	alreadySubscribed    bool
}

func subscriptionStateOf(model decisionmodel.DecisionModel) (subscriptionState, error) {
	var (
		s   subscriptionState
		err error
	)

	if s.course, err = decisionmodel.StateOf[courseState](model, stateCourse); err != nil {
		return s, err
	}

	if s.course.err != nil {
		return s, s.course.err
	}

	if s.courseSubscriptions, err = decisionmodel.StateOf[int](model, stateCourseSubscriptions); err != nil {
		return s, err
	}

	if s.studentRegistered, err = decisionmodel.StateOf[bool](model, stateStudentRegistered); err != nil {
		return s, err
	}

	if s.studentSubscriptions, err = decisionmodel.StateOf[int](model, stateStudentSubscriptions); err != nil {
		return s, err
	}

	if s.alreadySubscribed, err = decisionmodel.StateOf[bool](model, stateAlreadySubscribed); err != nil {
		return s, err
	}

	return s, nil
}

func singleEvent(eventType string, tags []string, payload any) ([]eventstore.Event, error) {
	event, err := toEvent(eventType, tags, payload, newEventMetadata())
	if err != nil {
		return nil, err
	}

	return []eventstore.Event{event}, nil
}
