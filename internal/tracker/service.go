package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tasktracker/internal/eventbus"
	"tasktracker/internal/schedule"
	"tasktracker/internal/storage"
	logx "tasktracker/pkg/logx"
)

// ErrUnknownTask is returned for task ids that are not configured.
var ErrUnknownTask = errors.New("unknown task")

// ErrTaskConfigured is returned by Forget for a task that is still configured.
var ErrTaskConfigured = errors.New("task is still configured")

// TaskDef is a configured task.
type TaskDef struct {
	ID   string
	Name string
	Task schedule.Task
}

// View is a read-only snapshot of a task for callers.
type View struct {
	ID     string
	Name   string
	Mode   schedule.Mode
	Record Record
	Status schedule.Status
}

// CompletedEvent is the payload of eventbus.TypeTaskCompleted.
type CompletedEvent struct {
	CompletedAt time.Time
	LastDone    time.Time
	NextDue     time.Time
}

// ResetEvent is the payload of eventbus.TypeTaskReset.
type ResetEvent struct {
	Entries int // history entries cleared
}

type Options struct {
	// Store is optional; nil keeps records in memory only.
	Store    storage.Store
	Bus      eventbus.Bus
	Location *time.Location
	Now      func() time.Time
	Log      logx.Logger
}

// Service serializes operations per task: record, compute and persist happen
// under the task's lock, so concurrent completions of one task never lose an
// entry. Different tasks proceed independently.
type Service struct {
	store storage.Store
	bus   eventbus.Bus
	loc   *time.Location
	now   func() time.Time
	log   logx.Logger

	mu      sync.RWMutex
	defs    map[string]TaskDef
	order   []string
	records map[string]Record

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewService(opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.New()
	}
	return &Service{
		store:   opts.Store,
		bus:     opts.Bus,
		loc:     opts.Location,
		now:     opts.Now,
		log:     opts.Log.With(logx.String("comp", "tracker")),
		defs:    map[string]TaskDef{},
		records: map[string]Record{},
		locks:   map[string]*sync.Mutex{},
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// Now returns the service clock in the tracker location.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

func (s *Service) taskLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// normalizeID maps user input onto the configured id form.
func normalizeID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

func (s *Service) def(id string) (TaskDef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[id]
	return d, ok
}

// ApplyTasks installs the configured task set. Tasks whose schedule changed get
// their next due date recomputed from the existing history. Records of tasks
// that are no longer configured are kept but no longer listed. It returns the
// ids whose record was recomputed.
func (s *Service) ApplyTasks(ctx context.Context, defs []TaskDef) ([]string, error) {
	next := make(map[string]TaskDef, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		if err := d.Task.Validate(); err != nil {
			return nil, fmt.Errorf("task %s: %w", d.ID, err)
		}
		if _, dup := next[d.ID]; dup {
			return nil, fmt.Errorf("task %s: duplicate id", d.ID)
		}
		next[d.ID] = d
		order = append(order, d.ID)
	}

	s.mu.Lock()
	prev := s.defs
	s.defs = next
	s.order = order
	s.mu.Unlock()

	var changed []string
	var errs []error
	for _, id := range order {
		old, existed := prev[id]
		if existed && reflect.DeepEqual(old.Task, next[id].Task) {
			continue
		}
		recomputed, err := s.recompute(ctx, next[id])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if recomputed {
			changed = append(changed, id)
		}
	}
	return changed, errors.Join(errs...)
}

// recompute re-derives next_due for def when a record with history exists.
func (s *Service) recompute(ctx context.Context, def TaskDef) (bool, error) {
	l := s.taskLock(def.ID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.loadRecord(ctx, def.ID)
	if err != nil {
		return false, err
	}
	if rec.History.Len() == 0 {
		return false, nil
	}
	out, err := Recompute(def.Task, rec)
	if err != nil {
		return false, fmt.Errorf("task %s: %w", def.ID, err)
	}
	if sameTime(out.NextDue, rec.NextDue) {
		return false, nil
	}
	out.UpdatedAt = s.Now()
	if err := s.persist(ctx, out); err != nil {
		return false, err
	}
	s.log.Info("next due recomputed", logx.String("task", def.ID), logx.Time("next_due", *out.NextDue))
	return true, nil
}

// Load warms the record cache from the store and recomputes next due dates of
// configured tasks whose schedule changed while the process was down.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	list, err := s.store.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	s.mu.Lock()
	for _, tr := range list {
		s.records[tr.TaskID] = fromStorage(tr, s.loc)
	}
	defs := make([]TaskDef, 0, len(s.order))
	for _, id := range s.order {
		defs = append(defs, s.defs[id])
	}
	s.mu.Unlock()

	var errs []error
	for _, d := range defs {
		if _, err := s.recompute(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Debug("records loaded", logx.Int("count", len(list)))
	return errors.Join(errs...)
}

// loadRecord returns the cached record, falling back to the store. Callers
// hold the task lock.
func (s *Service) loadRecord(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}
	if s.store != nil {
		tr, found, err := s.store.GetRecord(ctx, id)
		if err != nil {
			return Record{}, fmt.Errorf("load record %s: %w", id, err)
		}
		if found {
			rec = fromStorage(tr, s.loc)
			s.mu.Lock()
			s.records[id] = rec
			s.mu.Unlock()
			return rec, nil
		}
	}
	return Record{TaskID: id}, nil
}

// persist writes rec to the store first and only then to the cache, so a
// failed write leaves the previous state visible.
func (s *Service) persist(ctx context.Context, rec Record) error {
	if s.store != nil {
		if err := s.store.PutRecord(ctx, rec.toStorage()); err != nil {
			return fmt.Errorf("persist record %s: %w", rec.TaskID, err)
		}
	}
	s.mu.Lock()
	s.records[rec.TaskID] = rec
	s.mu.Unlock()
	return nil
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.store == nil {
		return
	}
	a := ActorFrom(ctx)
	e.ID = uuid.NewString()
	e.At = s.Now()
	e.Source = a.Source
	e.ActorID = a.ID
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("task", e.TaskID), logx.Err(err))
	}
}

// Complete records a completion of task id. A nil at means now. The timestamp
// is converted to the tracker location before it is recorded.
func (s *Service) Complete(ctx context.Context, id string, at *time.Time) (View, error) {
	id = normalizeID(id)
	def, ok := s.def(id)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	when := s.Now()
	if at != nil {
		when = at.In(s.loc)
	}

	l := s.taskLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return View{}, err
	}
	out, err := Complete(def.Task, rec, when)
	if err != nil {
		return View{}, fmt.Errorf("task %s: %w", id, err)
	}
	out.UpdatedAt = s.Now()
	if err := s.persist(ctx, out); err != nil {
		return View{}, err
	}

	s.audit(ctx, storage.AuditEntry{TaskID: id, Action: "complete", CompletedAt: &when, NextDue: out.NextDue})
	s.bus.Publish(eventbus.Event{
		Type:   eventbus.TypeTaskCompleted,
		TaskID: id,
		Data:   CompletedEvent{CompletedAt: when, LastDone: *out.LastDone, NextDue: *out.NextDue},
	})
	s.log.Info("task completed",
		logx.String("task", id),
		logx.Time("at", when),
		logx.Time("next_due", *out.NextDue),
		logx.Int("history", out.History.Len()),
	)
	return s.view(def, out), nil
}

// Reset clears the task's history; next due stays unset until the next completion.
func (s *Service) Reset(ctx context.Context, id string) (View, error) {
	id = normalizeID(id)
	def, ok := s.def(id)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}

	l := s.taskLock(id)
	l.Lock()
	defer l.Unlock()

	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return View{}, err
	}
	cleared := rec.History.Len()
	out := Reset(rec)
	out.UpdatedAt = s.Now()
	if err := s.persist(ctx, out); err != nil {
		return View{}, err
	}

	s.audit(ctx, storage.AuditEntry{TaskID: id, Action: "reset"})
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskReset, TaskID: id, Data: ResetEvent{Entries: cleared}})
	s.log.Info("task reset", logx.String("task", id), logx.Int("cleared", cleared))
	return s.view(def, out), nil
}

// Forget deletes the stored record of a task that is no longer configured.
func (s *Service) Forget(ctx context.Context, id string) error {
	id = normalizeID(id)
	if _, ok := s.def(id); ok {
		return fmt.Errorf("%w: %q", ErrTaskConfigured, id)
	}

	l := s.taskLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	_, found := s.records[id]
	s.mu.RUnlock()
	if !found && s.store != nil {
		_, ok, err := s.store.GetRecord(ctx, id)
		if err != nil {
			return fmt.Errorf("load record %s: %w", id, err)
		}
		found = ok
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	if s.store != nil {
		if err := s.store.DeleteRecord(ctx, id); err != nil {
			return fmt.Errorf("delete record %s: %w", id, err)
		}
	}
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()

	s.audit(ctx, storage.AuditEntry{TaskID: id, Action: "forget"})
	s.log.Info("task record deleted", logx.String("task", id))
	return nil
}

// Get returns the current view of task id.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	id = normalizeID(id)
	def, ok := s.def(id)
	if !ok {
		return View{}, fmt.Errorf("%w: %q", ErrUnknownTask, id)
	}
	l := s.taskLock(id)
	l.Lock()
	rec, err := s.loadRecord(ctx, id)
	l.Unlock()
	if err != nil {
		return View{}, err
	}
	return s.view(def, rec), nil
}

// List returns every configured task in config order.
func (s *Service) List(ctx context.Context) ([]View, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	out := make([]View, 0, len(ids))
	for _, id := range ids {
		v, err := s.Get(ctx, id)
		if errors.Is(err, ErrUnknownTask) {
			continue // removed by a concurrent reload
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// IDs returns the configured task ids, sorted.
func (s *Service) IDs() []string {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Service) view(def TaskDef, rec Record) View {
	name := def.Name
	if name == "" {
		name = def.ID
	}
	return View{ID: def.ID, Name: name, Mode: def.Task.Mode, Record: rec, Status: rec.Status(s.Now())}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
