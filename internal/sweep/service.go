// Package sweep periodically re-evaluates every task's due-state and publishes
// a task.status event when it changes.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tasktracker/internal/eventbus"
	"tasktracker/internal/schedule"
	"tasktracker/internal/tracker"
	logx "tasktracker/pkg/logx"
)

// Lister is the part of tracker.Service the sweep needs.
type Lister interface {
	List(ctx context.Context) ([]tracker.View, error)
}

// StatusChange is the payload of eventbus.TypeTaskStatus. From is empty on the
// first observation of a task.
type StatusChange struct {
	TaskID string
	Name   string
	From   schedule.State
	To     schedule.State
	Status schedule.Status
}

type Service struct {
	lister Lister
	bus    eventbus.Bus
	log    logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	spec    string
	running bool

	stateMu sync.Mutex
	last    map[string]schedule.State
}

func New(lister Lister, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		lister: lister,
		bus:    bus,
		log:    log.With(logx.String("comp", "sweep")),
		last:   map[string]schedule.State{},
	}
}

// Start schedules the sweep with spec in loc and runs one sweep immediately.
// An empty spec leaves the sweep disabled.
func (s *Service) Start(ctx context.Context, spec string, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(ctx, spec, loc); err != nil {
		return err
	}
	if s.running {
		go s.run(ctx)
	}
	return nil
}

// Apply reschedules the sweep when spec or loc changed.
func (s *Service) Apply(ctx context.Context, spec string, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && spec == s.spec && s.c.Location() == loc {
		return nil
	}
	s.stopLocked()
	return s.startLocked(ctx, spec, loc)
}

func (s *Service) startLocked(ctx context.Context, spec string, loc *time.Location) error {
	if s.running {
		return nil
	}
	s.spec = spec
	if spec == "" {
		s.log.Info("sweep disabled")
		return nil
	}
	parsed, err := ParseSpec(spec)
	if err != nil {
		return err
	}
	sched, err := parsed.Schedule()
	if err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	s.c = cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.c.Schedule(sched, cron.FuncJob(func() { s.run(ctx) }))
	s.c.Start()
	s.running = true
	s.log.Info("sweep scheduled", logx.String("spec", parsed.String()), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the trigger and waits for a running sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
	}
}

// Sweep evaluates every task once and publishes a task.status event for each
// state change since the previous sweep.
func (s *Service) Sweep(ctx context.Context) ([]StatusChange, error) {
	views, err := s.lister.List(ctx)
	if err != nil {
		return nil, err
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	seen := make(map[string]bool, len(views))
	var changes []StatusChange
	for _, v := range views {
		seen[v.ID] = true
		prev, ok := s.last[v.ID]
		if ok && prev == v.Status.State {
			continue
		}
		s.last[v.ID] = v.Status.State
		changes = append(changes, StatusChange{TaskID: v.ID, Name: v.Name, From: prev, To: v.Status.State, Status: v.Status})
	}
	for id := range s.last {
		if !seen[id] {
			delete(s.last, id)
		}
	}

	for _, c := range changes {
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStatus, TaskID: c.TaskID, Data: c})
		}
	}
	s.log.Debug("sweep done", logx.Int("tasks", len(views)), logx.Int("changes", len(changes)))
	return changes, nil
}
