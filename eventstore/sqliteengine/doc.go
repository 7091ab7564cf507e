// Package sqliteengine provides an embedded, file-backed DCB event store on top of SQLite (modernc.org/sqlite).
//
// Every transaction begins IMMEDIATE, so writers are serialized by SQLite's database lock and an append
// checks its condition and inserts without interference. Reads outside a transaction run as single
// statements on a WAL snapshot.
//
// Handler bookmarks live in a table next to the events, their locks are held in process. The engine is
// meant for one process owning the database file, typically tests, CLIs, and single-node deployments.
// Catch-up runs from different processes are not mutually excluded, they may deliver the same events
// twice. Bookmarks only ever move forward, whichever run commits last.
package sqliteengine
