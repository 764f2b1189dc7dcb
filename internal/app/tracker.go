package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasktracker/internal/config"
	"tasktracker/internal/eventbus"
	"tasktracker/internal/storage"
	"tasktracker/internal/tracker"
	logx "tasktracker/pkg/logx"
)

// taskDefs converts the configured tasks, keeping config order.
func taskDefs(cfg *config.Config) ([]tracker.TaskDef, error) {
	tasks, err := cfg.ScheduleTasks()
	if err != nil {
		return nil, err
	}
	out := make([]tracker.TaskDef, 0, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		id := strings.TrimSpace(tc.ID)
		out = append(out, tracker.TaskDef{ID: id, Name: strings.TrimSpace(tc.DisplayName()), Task: tasks[id]})
	}
	return out, nil
}

// TrackerDeps is what OpenTracker builds.
type TrackerDeps struct {
	Tracker *tracker.Service
	// Store is nil when storage is disabled.
	Store storage.Store
}

// Close releases the store.
func (d TrackerDeps) Close() error {
	if d.Store == nil {
		return nil
	}
	return d.Store.Close()
}

// OpenTracker opens storage, installs the configured tasks and warms the
// record cache. It is shared by the long-running app and the one-shot CLI
// commands.
func OpenTracker(ctx context.Context, cfg *config.Config, bus eventbus.Bus, log logx.Logger, now func() time.Time) (TrackerDeps, error) {
	loc, err := cfg.Tracker.Location()
	if err != nil {
		return TrackerDeps{}, err
	}
	defs, err := taskDefs(cfg)
	if err != nil {
		return TrackerDeps{}, err
	}

	var store storage.Store
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return TrackerDeps{}, err
	}
	if enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return TrackerDeps{}, fmt.Errorf("open storage: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	svc := tracker.NewService(tracker.Options{Store: store, Bus: bus, Location: loc, Now: now, Log: log})
	deps := TrackerDeps{Tracker: svc, Store: store}
	if _, err := svc.ApplyTasks(ctx, defs); err != nil {
		_ = deps.Close()
		return TrackerDeps{}, err
	}
	if err := svc.Load(ctx); err != nil {
		_ = deps.Close()
		return TrackerDeps{}, err
	}
	return deps, nil
}
