// Package recordings keeps the durable index of persisted recordings.
//
// Every finalized artifact the booth persists gets a row: uploads carry the
// remote address and the time they landed, local-only fallbacks carry the
// store error that caused them. The index lives in SQLite (modernc.org/sqlite,
// no cgo) under the state directory and is shared by the record, recordings,
// and status commands.
package recordings
