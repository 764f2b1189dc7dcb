package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "tasktracker/pkg/logx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS task_records (
		task_id    TEXT PRIMARY KEY,
		last_done  TIMESTAMPTZ,
		next_due   TIMESTAMPTZ,
		history    JSONB NOT NULL DEFAULT '[]'::jsonb,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_audit (
		id           TEXT PRIMARY KEY,
		at           TIMESTAMPTZ NOT NULL,
		task_id      TEXT NOT NULL,
		action       TEXT NOT NULL,
		source       TEXT,
		actor_id     BIGINT NOT NULL DEFAULT 0,
		completed_at TIMESTAMPTZ,
		next_due     TIMESTAMPTZ,
		err          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS task_audit_task_at ON task_audit(task_id, at)`,
}

type postgresStore struct {
	db  *pgxpool.Pool
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	pcfg.MaxConns = 4

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := &postgresStore{db: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.db.Close()
	return nil
}

func (s *postgresStore) GetRecord(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	if s == nil || s.db == nil {
		return TaskRecord{}, false, ErrDisabled
	}
	row := s.db.QueryRow(ctx,
		`SELECT task_id, last_done, next_due, history, updated_at FROM task_records WHERE task_id = $1`,
		strings.TrimSpace(taskID))
	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaskRecord{}, false, nil
	}
	if err != nil {
		return TaskRecord{}, false, err
	}
	return rec, true, nil
}

func (s *postgresStore) ListRecords(ctx context.Context) ([]TaskRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.Query(ctx,
		`SELECT task_id, last_done, next_due, history, updated_at FROM task_records ORDER BY task_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) PutRecord(ctx context.Context, rec TaskRecord) error {
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
	_, err = s.db.Exec(ctx,
		`INSERT INTO task_records(task_id, last_done, next_due, history, updated_at)
		 VALUES($1, $2, $3, $4::jsonb, $5)
		 ON CONFLICT(task_id) DO UPDATE SET
		   last_done = EXCLUDED.last_done, next_due = EXCLUDED.next_due,
		   history = EXCLUDED.history, updated_at = EXCLUDED.updated_at`,
		strings.TrimSpace(rec.TaskID), rec.LastDone, rec.NextDue, hist, rec.UpdatedAt,
	)
	return err
}

func (s *postgresStore) DeleteRecord(ctx context.Context, taskID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.Exec(ctx, `DELETE FROM task_records WHERE task_id = $1`, strings.TrimSpace(taskID))
	return err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO task_audit(id, at, task_id, action, source, actor_id, completed_at, next_due, err)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.At, e.TaskID, e.Action, nullStr(e.Source), e.ActorID, e.CompletedAt, e.NextDue, nullStr(e.Error),
	)
	return err
}

func scanPgRecord(r pgx.Row) (TaskRecord, error) {
	var (
		rec     TaskRecord
		history []byte
	)
	if err := r.Scan(&rec.TaskID, &rec.LastDone, &rec.NextDue, &history, &rec.UpdatedAt); err != nil {
		return TaskRecord{}, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.History); err != nil {
			return TaskRecord{}, fmt.Errorf("task_records.history: %w", err)
		}
	}
	if rec.History == nil {
		rec.History = []time.Time{}
	}
	return rec, nil
}
