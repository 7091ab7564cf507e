package coursesubscription

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

// CourseSubscriptionsHandlerID is the bookmark id of the CourseSubscriptions projection.
const CourseSubscriptionsHandlerID = "course-subscriptions"

// CourseSummary is one row of the CourseSubscriptions read model.
type CourseSummary struct {
	CourseID   string
	Title      string
	Capacity   int
	StudentIDs []string
}

// FreeSeats can be negative after the capacity was lowered below the subscriptions.
func (s CourseSummary) FreeSeats() int {
	return s.Capacity - len(s.StudentIDs)
}

type courseRow struct {
	title    string
	capacity int
	students map[string]struct{}
}

// CourseSubscriptions is an in-memory read model of courses and their subscribed students.
// Its callbacks are idempotent, redelivered events leave it unchanged.
type CourseSubscriptions struct {
	mu      sync.RWMutex
	courses map[string]*courseRow
}

func NewCourseSubscriptions() *CourseSubscriptions {
	return &CourseSubscriptions{courses: make(map[string]*courseRow)}
}

// Handler returns the catch-up handler that feeds the read model.
func (p *CourseSubscriptions) Handler() catchup.Handler {
	return catchup.Handler{
		ID: CourseSubscriptionsHandlerID,
		When: map[string]catchup.Callback{
			CourseDefinedEventType:             p.whenCourseDefined,
			CourseCapacityChangedEventType:     p.whenCourseCapacityChanged,
			StudentSubscribedToCourseEventType: p.whenStudentSubscribed,
		},
	}
}

// Course returns the summary of one course.
func (p *CourseSubscriptions) Course(courseID string) (CourseSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	row, ok := p.courses[courseID]
	if !ok {
		return CourseSummary{}, false
	}

	return row.summary(courseID), true
}

// Courses returns all course summaries ordered by course id.
func (p *CourseSubscriptions) Courses() []CourseSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summaries := make([]CourseSummary, 0, len(p.courses))
	for _, courseID := range slices.Sorted(maps.Keys(p.courses)) {
		summaries = append(summaries, p.courses[courseID].summary(courseID))
	}

	return summaries
}

func (p *CourseSubscriptions) whenCourseDefined(_ context.Context, envelope eventstore.EventEnvelope) error {
	payload, err := PayloadOf[CourseDefined](envelope)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	row := p.row(payload.CourseID)
	row.title = payload.Title
	row.capacity = payload.Capacity

	return nil
}

func (p *CourseSubscriptions) whenCourseCapacityChanged(_ context.Context, envelope eventstore.EventEnvelope) error {
	payload, err := PayloadOf[CourseCapacityChanged](envelope)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.row(payload.CourseID).capacity = payload.NewCapacity

	return nil
}

func (p *CourseSubscriptions) whenStudentSubscribed(_ context.Context, envelope eventstore.EventEnvelope) error {
	payload, err := PayloadOf[StudentSubscribedToCourse](envelope)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.row(payload.CourseID).students[payload.StudentID] = struct{}{}

	return nil
}

// row must be called with the write lock held.
func (p *CourseSubscriptions) row(courseID string) *courseRow {
	row, ok := p.courses[courseID]
	if !ok {
		row = &courseRow{students: make(map[string]struct{})}
		p.courses[courseID] = row
	}

	return row
}

func (r *courseRow) summary(courseID string) CourseSummary {
	return CourseSummary{
		CourseID:   courseID,
		Title:      r.title,
		Capacity:   r.capacity,
		StudentIDs: slices.Sorted(maps.Keys(r.students)),
	}
}
