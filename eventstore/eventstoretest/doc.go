// Package eventstoretest contains a behavioral test suite every eventstore engine must pass.
//
// Engine packages call RunEventStoreSuite and RunCatchupSuite from their own tests with a factory
// that returns a fresh, empty store.
package eventstoretest
