// Package decisionmodel builds the state a command decides on, together with the append condition
// that protects the decision.
//
// Each named StateHandler contributes one query item (its event types and tag filter). Build reads the
// union of all items exactly once and folds every event into each handler it applies to. The condition's
// ceiling is the highest position among all events the read yielded, so an append guarded by it fails
// if any event relevant to any handler was appended in the meantime.
package decisionmodel
