// Package coursesubscription is a small course enrollment domain on top of the DCB event store.
//
// Courses have a capacity, students register once and subscribe to courses. The interesting rule is
// that a course must never have more subscriptions than its capacity, which spans the course and every
// subscribing student. Instead of a course aggregate, SubscribeStudentToCourse builds a decision model
// over exactly the events that rule depends on and appends under the resulting condition, so two
// concurrent subscriptions to the last free seat cannot both succeed.
//
// CourseSubscriptions is a read model kept up to date by the catch-up of a catchup.Handler.
package coursesubscription
