package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": Path is the file prefix (e.g. ./data/tasks.json)
//   - "sqlite": Path is the database file
//   - "redis": DSN is a redis:// URL
//   - "postgres": DSN is a postgres:// URL
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	KeyPrefix   string        // redis only; default "tasktracker:"
	BusyTimeout time.Duration // sqlite only; 0 means default
	AuditMax    int           // redis only; capped list length (default 1000)
}

// TaskRecord is the persisted state of one task.
// History is oldest first and never longer than the ledger capacity.
type TaskRecord struct {
	TaskID    string      `json:"task_id"`
	LastDone  *time.Time  `json:"last_done,omitempty"`
	NextDue   *time.Time  `json:"next_due,omitempty"`
	History   []time.Time `json:"history"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AuditEntry records a completion or reset.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID          string     `json:"id"`
	At          time.Time  `json:"at"`
	TaskID      string     `json:"task_id"`
	Action      string     `json:"action"` // "complete" | "reset" | "forget"
	Source      string     `json:"source,omitempty"`
	ActorID     int64      `json:"actor_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	NextDue     *time.Time `json:"next_due,omitempty"`
	Error       string     `json:"err,omitempty"`
}

// Store is the persistence API used by the tracker.
type Store interface {
	GetRecord(ctx context.Context, taskID string) (rec TaskRecord, ok bool, err error)
	PutRecord(ctx context.Context, rec TaskRecord) error
	DeleteRecord(ctx context.Context, taskID string) error
	ListRecords(ctx context.Context) ([]TaskRecord, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
