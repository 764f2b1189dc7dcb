package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tasktracker/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetRecord(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	if s == nil || s.db == nil {
		return TaskRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, last_done, next_due, history, updated_at FROM records WHERE task_id = ?`,
		strings.TrimSpace(taskID))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) ListRecords(ctx context.Context) ([]TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, last_done, next_due, history, updated_at FROM records ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutRecord(ctx context.Context, rec TaskRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(rec.TaskID) == "" {
		return errors.New("task id required")
	}
	hist, err := encodeHistory(rec.History)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(task_id, last_done, next_due, history, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   last_done=excluded.last_done, next_due=excluded.next_due,
		   history=excluded.history, updated_at=excluded.updated_at`,
		strings.TrimSpace(rec.TaskID), formatTime(rec.LastDone), formatTime(rec.NextDue), hist,
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteRecord(ctx context.Context, taskID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE task_id = ?`, strings.TrimSpace(taskID))
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, task_id, action, source, actor_id, completed_at, next_due, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.Format(time.RFC3339Nano), e.TaskID, e.Action, nullStr(e.Source), e.ActorID,
		formatTime(e.CompletedAt), formatTime(e.NextDue), nullStr(e.Error),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (TaskRecord, error) {
	var (
		rec       TaskRecord
		lastDone  sql.NullString
		nextDue   sql.NullString
		history   string
		updatedAt string
	)
	if err := r.Scan(&rec.TaskID, &lastDone, &nextDue, &history, &updatedAt); err != nil {
		return TaskRecord{}, err
	}
	var err error
	if lastDone.Valid {
		if rec.LastDone, err = parseTime(&lastDone.String); err != nil {
			return TaskRecord{}, fmt.Errorf("records.last_done: %w", err)
		}
	}
	if nextDue.Valid {
		if rec.NextDue, err = parseTime(&nextDue.String); err != nil {
			return TaskRecord{}, fmt.Errorf("records.next_due: %w", err)
		}
	}
	if rec.History, err = decodeHistory(history); err != nil {
		return TaskRecord{}, fmt.Errorf("records.history: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}
