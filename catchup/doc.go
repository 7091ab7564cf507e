// Package catchup delivers events from the log to side-effecting handlers, such as read model projections.
//
// Every handler has a durable bookmark: the position of the last event it has processed.
// A catch-up run locks the bookmarks of all handlers in a Registry (failing fast if another process
// holds any of them), streams each handler's event types from its bookmark up to a ceiling, and then
// advances all bookmarks in one batch. If anything fails, no bookmark advances, so delivery is at-least-once
// and callbacks must be idempotent.
//
// The storage side is abstracted by Store, engines run Run inside their transaction or lock scope.
package catchup
