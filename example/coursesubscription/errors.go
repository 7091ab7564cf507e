package coursesubscription

import "errors"

var (
	ErrCourseNotFound           = errors.New("course not found")
	ErrCourseAlreadyDefined     = errors.New("course is already defined")
	ErrInvalidCapacity          = errors.New("course capacity must be positive")
	ErrCourseFull               = errors.New("course is full")
	ErrStudentNotRegistered     = errors.New("student is not registered")
	ErrStudentAlreadyRegistered = errors.New("student is already registered")
	ErrAlreadySubscribed        = errors.New("student is already subscribed to course")
	ErrTooManySubscriptions     = errors.New("student is subscribed to too many courses")

	// ErrMappingEventFailed is returned when a payload or metadata cannot be (de)serialized.
	ErrMappingEventFailed = errors.New("mapping event failed")
)
