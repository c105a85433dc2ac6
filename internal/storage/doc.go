// Package storage persists per-user counters and the append-only event log.
//
// Drivers:
//   - "memory": process-local maps, used by tests and dry runs
//   - "file": JSON Lines event log plus a user snapshot and journal
//   - "sqlite": single SQLite database file (modernc.org/sqlite, pure Go)
package storage
