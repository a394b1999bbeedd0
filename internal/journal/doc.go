// Package journal records the outcome of every dispatched call.
//
// Backends:
//   - file: append-only JSON Lines
//   - sqlite: a single table in a SQLite database (modernc.org/sqlite, no cgo)
//
// Only finished calls are journaled. Queued work is never persisted.
package journal
