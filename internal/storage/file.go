package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "tasktracker/pkg/logx"
)

// compactEvery is the number of journal appends between snapshot compactions.
const compactEvery = 200

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl            (append-only JSON Lines)
//   - <prefix>.records.snapshot.json  (periodic snapshot)
//   - <prefix>.records.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	snapshotPath string
	journalFile  *os.File
	records      map[string]TaskRecord

	writes int
}

type journalOp struct {
	Op     string      `json:"op"` // "put" | "del"
	TaskID string      `json:"task_id"`
	Record *TaskRecord `json:"record,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".records.snapshot.json"
	journalPath := prefix + ".records.journal.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	records := map[string]TaskRecord{}
	if err := loadSnapshot(snapPath, records); err != nil && !os.IsNotExist(err) {
		log.Warn("records snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, records); err != nil && !os.IsNotExist(err) {
		log.Warn("records journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("records", len(records)))
	return &fileStore{
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		records:      records,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if s.writes > 0 {
			if err := s.compactLocked(); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) GetRecord(ctx context.Context, taskID string) (TaskRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[strings.TrimSpace(taskID)]
	return rec, ok, nil
}

func (s *fileStore) ListRecords(ctx context.Context) ([]TaskRecord, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]TaskRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *fileStore) PutRecord(ctx context.Context, rec TaskRecord) error {
	_ = ctx
	rec.TaskID = strings.TrimSpace(rec.TaskID)
	if rec.TaskID == "" {
		return errors.New("task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalOp{Op: "put", TaskID: rec.TaskID, Record: &rec}); err != nil {
		return err
	}
	s.records[rec.TaskID] = rec
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) DeleteRecord(ctx context.Context, taskID string) error {
	_ = ctx
	taskID = strings.TrimSpace(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[taskID]; !ok {
		return nil
	}
	if err := s.appendLocked(journalOp{Op: "del", TaskID: taskID}); err != nil {
		return err
	}
	delete(s.records, taskID)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) appendLocked(op journalOp) error {
	if s.journalFile == nil {
		return errors.New("records journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(op); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked runs after the journaled op has been applied to s.records.
func (s *fileStore) maybeCompactLocked() {
	if s.writes < compactEvery {
		return
	}
	// Best-effort compact.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("records compact failed", logx.Err(err))
	}
}

// compactLocked writes the in-memory records to the snapshot and truncates the
// journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	s.writes = 0
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]TaskRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]TaskRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]TaskRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			continue
		}
		if op.TaskID == "" {
			continue
		}
		switch op.Op {
		case "put":
			if op.Record != nil {
				out[op.TaskID] = *op.Record
			}
		case "del":
			delete(out, op.TaskID)
		}
	}
	return sc.Err()
}
