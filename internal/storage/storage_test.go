package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "tasktracker/pkg/logx"
)

func sampleRecord(id string, base time.Time) TaskRecord {
	last := base.AddDate(0, 0, 2)
	next := base.AddDate(0, 0, 9)
	return TaskRecord{
		TaskID:    id,
		LastDone:  &last,
		NextDue:   &next,
		History:   []time.Time{base, base.AddDate(0, 0, 1), last},
		UpdatedAt: base.AddDate(0, 0, 2),
	}
}

func assertRecordEqual(t *testing.T, got, want TaskRecord) {
	t.Helper()
	if got.TaskID != want.TaskID {
		t.Fatalf("TaskID = %q, want %q", got.TaskID, want.TaskID)
	}
	if (got.LastDone == nil) != (want.LastDone == nil) || (got.LastDone != nil && !got.LastDone.Equal(*want.LastDone)) {
		t.Fatalf("LastDone = %v, want %v", got.LastDone, want.LastDone)
	}
	if (got.NextDue == nil) != (want.NextDue == nil) || (got.NextDue != nil && !got.NextDue.Equal(*want.NextDue)) {
		t.Fatalf("NextDue = %v, want %v", got.NextDue, want.NextDue)
	}
	if len(got.History) != len(want.History) {
		t.Fatalf("History len = %d, want %d", len(got.History), len(want.History))
	}
	for i := range got.History {
		if !got.History[i].Equal(want.History[i]) {
			t.Fatalf("History[%d] = %v, want %v", i, got.History[i], want.History[i])
		}
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	if _, ok, err := st.GetRecord(ctx, "dishes"); err != nil || ok {
		t.Fatalf("GetRecord on empty store = ok:%v err:%v", ok, err)
	}

	a := sampleRecord("dishes", base)
	b := sampleRecord("bins", base.AddDate(0, 1, 0))
	b.NextDue = nil
	for _, rec := range []TaskRecord{a, b} {
		if err := st.PutRecord(ctx, rec); err != nil {
			t.Fatalf("PutRecord(%s): %v", rec.TaskID, err)
		}
	}

	got, ok, err := st.GetRecord(ctx, "dishes")
	if err != nil || !ok {
		t.Fatalf("GetRecord(dishes) = ok:%v err:%v", ok, err)
	}
	assertRecordEqual(t, got, a)

	list, err := st.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(list) != 2 || list[0].TaskID != "bins" || list[1].TaskID != "dishes" {
		t.Fatalf("ListRecords = %+v", list)
	}
	assertRecordEqual(t, list[0], b)

	// Overwrite (reset-like record).
	a2 := TaskRecord{TaskID: "dishes", History: []time.Time{}, UpdatedAt: base.AddDate(0, 0, 3)}
	if err := st.PutRecord(ctx, a2); err != nil {
		t.Fatalf("PutRecord overwrite: %v", err)
	}
	got, _, _ = st.GetRecord(ctx, "dishes")
	assertRecordEqual(t, got, a2)

	if err := st.DeleteRecord(ctx, "bins"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, ok, _ := st.GetRecord(ctx, "bins"); ok {
		t.Fatal("record still present after delete")
	}

	done := base
	if err := st.AppendAudit(ctx, AuditEntry{ID: "a1", TaskID: "dishes", Action: "complete", CompletedAt: &done}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	tests := []Config{
		{Driver: "etcd"},
		{Driver: "file"},
		{Driver: "sqlite"},
		{Driver: "redis"},
		{Driver: "postgres"},
	}
	for _, cfg := range tests {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v) expected error", cfg)
		}
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data", "tasks.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close compacts; the snapshot must exist and the journal must be empty.
	dir := filepath.Dir(path)
	if _, err := os.Stat(filepath.Join(dir, "tasks.records.snapshot.json")); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dir, "tasks.records.journal.jsonl"))
	if err != nil {
		t.Fatalf("journal missing: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("journal not truncated: size=%d", fi.Size())
	}
	if fi, err := os.Stat(filepath.Join(dir, "tasks.audit.jsonl")); err != nil || fi.Size() == 0 {
		t.Fatalf("audit file empty: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	list, err := st2.ListRecords(context.Background())
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(list) != 1 || list[0].TaskID != "dishes" {
		t.Fatalf("records after reopen = %+v", list)
	}
}

func TestFileStoreJournalReplay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	ctx := context.Background()
	rec := sampleRecord("plants", base)
	if err := st.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := st.PutRecord(ctx, sampleRecord("filter", base)); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := st.DeleteRecord(ctx, "filter"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}

	// Simulate a crash: drop the handles without compacting.
	fs := st.(*fileStore)
	_ = fs.journalFile.Close()
	_ = fs.auditFile.Close()

	st2, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, ok, err := st2.GetRecord(ctx, "plants")
	if err != nil || !ok {
		t.Fatalf("GetRecord after replay = ok:%v err:%v", ok, err)
	}
	assertRecordEqual(t, got, rec)
	if _, ok, _ := st2.GetRecord(ctx, "filter"); ok {
		t.Fatal("deleted record resurrected by replay")
	}
}

func TestFileStoreCompactsPeriodically(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tasks.json")
	st, err := openFile(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	defer st.Close()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < compactEvery; i++ {
		if err := st.PutRecord(context.Background(), sampleRecord("vacuum", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("PutRecord #%d: %v", i, err)
		}
	}
	fs := st.(*fileStore)
	if fs.writes != 0 {
		t.Fatalf("writes = %d after %d puts, want 0 (compacted)", fs.writes, compactEvery)
	}
	m := map[string]TaskRecord{}
	if err := loadSnapshot(fs.snapshotPath, m); err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if _, ok := m["vacuum"]; !ok {
		t.Fatal("snapshot is missing the last written record")
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tasks.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestRedisStoreDefaults(t *testing.T) {
	t.Parallel()
	st := newRedisStore(nil, Config{}, logx.Nop())
	if st.recordsKey() != "tasktracker:records" || st.auditKey() != "tasktracker:audit" {
		t.Fatalf("unexpected keys: %s %s", st.recordsKey(), st.auditKey())
	}
	if st.auditMax != defaultRedisAuditMax {
		t.Fatalf("auditMax = %d", st.auditMax)
	}
	if _, _, err := st.GetRecord(context.Background(), "x"); err != ErrDisabled {
		t.Fatalf("GetRecord without client = %v, want ErrDisabled", err)
	}

	st = newRedisStore(nil, Config{KeyPrefix: "home:", AuditMax: 10}, logx.Nop())
	if st.recordsKey() != "home:records" || st.auditMax != 10 {
		t.Fatalf("custom prefix not applied: %s %d", st.recordsKey(), st.auditMax)
	}
}
