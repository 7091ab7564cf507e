// Package memoryengine provides the in-memory reference implementation of the DCB event store.
//
// It keeps the log in a slice guarded by a mutex. Appends check their AppendCondition and assign
// positions within one critical section, so they are linearizable. It is meant for tests, examples,
// and as the behavioral reference for the SQL engines.
package memoryengine
