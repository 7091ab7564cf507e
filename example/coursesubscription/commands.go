package coursesubscription

import (
	"time"

	"github.com/google/uuid"
)

// MaxSubscriptionsPerStudent limits how many courses one student may subscribe to.
const MaxSubscriptionsPerStudent = 10

const (
	defineCourseCommandType             = "DefineCourse"
	changeCourseCapacityCommandType     = "ChangeCourseCapacity"
	registerStudentCommandType          = "RegisterStudent"
	subscribeStudentToCourseCommandType = "SubscribeStudentToCourse"
)

type DefineCourse struct {
	CourseID   uuid.UUID
	Title      string
	Capacity   int
	OccurredAt OccurredAt
}

func BuildDefineCourse(courseID uuid.UUID, title string, capacity int, occurredAt time.Time) DefineCourse {
	return DefineCourse{CourseID: courseID, Title: title, Capacity: capacity, OccurredAt: ToOccurredAt(occurredAt)}
}

type ChangeCourseCapacity struct {
	CourseID    uuid.UUID
	NewCapacity int
	OccurredAt  OccurredAt
}

func BuildChangeCourseCapacity(courseID uuid.UUID, newCapacity int, occurredAt time.Time) ChangeCourseCapacity {
	return ChangeCourseCapacity{CourseID: courseID, NewCapacity: newCapacity, OccurredAt: ToOccurredAt(occurredAt)}
}

type RegisterStudent struct {
	StudentID  uuid.UUID
	Name       string
	OccurredAt OccurredAt
}

func BuildRegisterStudent(studentID uuid.UUID, name string, occurredAt time.Time) RegisterStudent {
	return RegisterStudent{StudentID: studentID, Name: name, OccurredAt: ToOccurredAt(occurredAt)}
}

type SubscribeStudentToCourse struct {
	CourseID   uuid.UUID
	StudentID  uuid.UUID
	OccurredAt OccurredAt
}

func BuildSubscribeStudentToCourse(courseID uuid.UUID, studentID uuid.UUID, occurredAt time.Time) SubscribeStudentToCourse {
	return SubscribeStudentToCourse{CourseID: courseID, StudentID: studentID, OccurredAt: ToOccurredAt(occurredAt)}
}
