package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tasktracker/internal/config"
	logx "tasktracker/pkg/logx"
)

const appConfig = `
logging:
  level: error
  console: false
tracker:
  timezone: UTC
  sweep: "@every 1h"
storage:
  driver: file
  path: %s
tasks:
  - id: plants
    name: Water plants
    mode: sliding
    interval_days: %d
`

func writeAppConfig(t *testing.T, path, dataPath string, interval int) {
	t.Helper()
	body := fmt.Sprintf(appConfig, dataPath, interval)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestAppReloadRecomputesNextDue(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dataPath := filepath.Join(dir, "data", "tasks.json")
	writeAppConfig(t, cfgPath, dataPath, 3)

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	v, err := a.Tracker().Complete(ctx, "plants", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	last := *v.Record.LastDone
	if !v.Record.NextDue.Equal(last.AddDate(0, 0, 3)) {
		t.Fatalf("next due = %v, want %v", v.Record.NextDue, last.AddDate(0, 0, 3))
	}

	writeAppConfig(t, cfgPath, dataPath, 10)
	if _, err := a.cfgm.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	want := last.AddDate(0, 0, 10)
	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := a.Tracker().Get(ctx, "plants")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Record.NextDue != nil && got.Record.NextDue.Equal(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next due after reload = %v, want %v", got.Record.NextDue, want)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The completion survives a restart.
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	deps, err := OpenTracker(context.Background(), cfg, nil, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("OpenTracker: %v", err)
	}
	defer deps.Close()
	got, err := deps.Tracker.Get(context.Background(), "plants")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.Record.History.Len() != 1 || !got.Record.NextDue.Equal(want) {
		t.Fatalf("record after restart = %+v", got.Record)
	}
}

func TestValidatorRejectsBadSweep(t *testing.T) {
	t.Parallel()
	a := &App{}
	cfg := &config.Config{Tracker: config.TrackerConfig{Sweep: "every tuesday"}}
	if err := a.validate(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "tracker.sweep") {
		t.Fatalf("validate = %v, want tracker.sweep error", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "nil", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "x.json"}, enabled: true, driver: "file"},
		{name: "sqlite default busy", in: &config.StorageConfig{Driver: "SQLite3", Path: "x.db"}, enabled: true, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "250ms"}, enabled: true, driver: "sqlite", busy: 250 * time.Millisecond},
		{name: "sqlite no path", in: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "redis", in: &config.StorageConfig{Driver: "redis", DSN: "redis://localhost:6379/0"}, enabled: true, driver: "redis"},
		{name: "redis no dsn", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
		{name: "pgx alias", in: &config.StorageConfig{Driver: "pgx", DSN: "postgres://u@localhost/db"}, enabled: true, driver: "postgres"},
		{name: "unknown", in: &config.StorageConfig{Driver: "etcd"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver || sc.BusyTimeout != tt.busy {
				t.Fatalf("got %+v enabled=%v", sc, enabled)
			}
		})
	}
}

func TestTaskDefsKeepConfigOrder(t *testing.T) {
	t.Parallel()
	seven, three := 7, 3
	cfg := &config.Config{Tasks: []config.TaskConfig{
		{ID: "zeta", Mode: "sliding", IntervalDays: &seven},
		{ID: "alpha", Name: "Alpha", Mode: "predictive", InitialGuessDays: &three},
	}}
	defs, err := taskDefs(cfg)
	if err != nil {
		t.Fatalf("taskDefs: %v", err)
	}
	if len(defs) != 2 || defs[0].ID != "zeta" || defs[0].Name != "zeta" || defs[1].Name != "Alpha" {
		t.Fatalf("defs = %+v", defs)
	}
}
