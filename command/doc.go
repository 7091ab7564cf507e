// Package command runs the decide cycle of a command against a DCB event store:
// build the decision model, decide on new events, append them under the model's condition.
//
// A concurrency conflict means the decision was made on outdated state, so Execute retries the whole
// cycle with exponential backoff and jitter. Any other error, including business errors returned by the
// decide function, fails fast.
package command
