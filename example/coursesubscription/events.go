package coursesubscription

import (
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
)

const (
	CourseDefinedEventType             = "CourseDefined"
	CourseCapacityChangedEventType     = "CourseCapacityChanged"
	StudentRegisteredEventType         = "StudentRegistered"
	StudentSubscribedToCourseEventType = "StudentSubscribedToCourse"

	courseTagKey  = "course"
	studentTagKey = "student"
)

// OccurredAt is normalized to UTC with microsecond precision, like the Postgres engine stores timestamps.
type OccurredAt = time.Time

func ToOccurredAt(t time.Time) OccurredAt {
	return t.UTC().Truncate(time.Microsecond)
}

// CourseDefined is tagged with the course.
type CourseDefined struct {
	CourseID   string
	Title      string
	Capacity   int
	OccurredAt OccurredAt
}

// CourseCapacityChanged is tagged with the course.
type CourseCapacityChanged struct {
	CourseID    string
	NewCapacity int
	OccurredAt  OccurredAt
}

// StudentRegistered is tagged with the student.
type StudentRegistered struct {
	StudentID  string
	Name       string
	OccurredAt OccurredAt
}

// StudentSubscribedToCourse is tagged with both the course and the student,
// so it is relevant for the capacity of the course and for the subscriptions of the student.
type StudentSubscribedToCourse struct {
	CourseID   string
	StudentID  string
	OccurredAt OccurredAt
}

func courseTag(courseID string) string {
	return courseTagKey + "=" + courseID
}

func studentTag(studentID string) string {
	return studentTagKey + "=" + studentID
}

func courseTags(courseID string) eventstore.Tags {
	return eventstore.MustTagsFrom(courseTag(courseID))
}

func studentTags(studentID string) eventstore.Tags {
	return eventstore.MustTagsFrom(studentTag(studentID))
}

func toEvent(eventType string, tags []string, payload any, metadata EventMetadata) (eventstore.Event, error) {
	tagSet, err := eventstore.TagsFrom(tags...)
	if err != nil {
		return eventstore.Event{}, err
	}

	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return eventstore.Event{}, errors.Join(ErrMappingEventFailed, err)
	}

	metadataJSON, err := jsoniter.ConfigFastest.Marshal(metadata)
	if err != nil {
		return eventstore.Event{}, errors.Join(ErrMappingEventFailed, err)
	}

	return eventstore.BuildEvent(eventType, tagSet, data, metadataJSON)
}

// PayloadOf decodes the data of a stored event into T.
func PayloadOf[T any](envelope eventstore.EventEnvelope) (T, error) {
	var payload T

	if err := jsoniter.ConfigFastest.Unmarshal(envelope.Event.Data(), &payload); err != nil {
		return payload, errors.Join(ErrMappingEventFailed, err)
	}

	return payload, nil
}
