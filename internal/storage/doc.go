// Package storage persists task records and the completion audit trail.
//
// Drivers:
//   - file: JSON snapshot + JSON Lines journal, plus an append-only audit file
//   - sqlite: single database file (modernc.org/sqlite, no cgo)
//   - redis: one hash for records, one capped list for audit entries
//   - postgres: two tables, created on open
package storage
