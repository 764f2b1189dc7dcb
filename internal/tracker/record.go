// Package tracker is the host around the ledger and scheduler: it owns task
// records, serializes completions per task and persists the outcome.
package tracker

import (
	"time"

	"tasktracker/internal/ledger"
	"tasktracker/internal/schedule"
	"tasktracker/internal/storage"
)

// Record is the full state of one task.
//
// LastDone is the newest ledger entry. NextDue stays nil until the first
// completion after creation or reset.
type Record struct {
	TaskID    string
	History   ledger.Ledger
	LastDone  *time.Time
	NextDue   *time.Time
	UpdatedAt time.Time
}

// Status derives the due-state of the record at now.
func (r Record) Status(now time.Time) schedule.Status {
	if r.NextDue == nil {
		return schedule.Evaluate(time.Time{}, now)
	}
	return schedule.Evaluate(*r.NextDue, now)
}

// Complete records a completion at `at` and recomputes the derived fields.
//
// The next due date is anchored on the newest ledger entry, so a backdated
// completion behind a newer one only changes predictive averages.
// On error the input record is returned unchanged.
func Complete(task schedule.Task, rec Record, at time.Time) (Record, error) {
	hist := rec.History.Record(at)
	out, err := derive(task, rec.TaskID, hist)
	if err != nil {
		return rec, err
	}
	out.UpdatedAt = rec.UpdatedAt
	return out, nil
}

// Recompute re-derives NextDue from the current history, e.g. after the task's
// configuration changed. A record without history is returned as is.
func Recompute(task schedule.Task, rec Record) (Record, error) {
	if rec.History.Len() == 0 {
		return rec, nil
	}
	out, err := derive(task, rec.TaskID, rec.History)
	if err != nil {
		return rec, err
	}
	out.UpdatedAt = rec.UpdatedAt
	return out, nil
}

// Reset clears the history and the derived fields in one transition.
func Reset(rec Record) Record {
	return Record{TaskID: rec.TaskID, History: rec.History.Reset(), UpdatedAt: rec.UpdatedAt}
}

func derive(task schedule.Task, id string, hist ledger.Ledger) (Record, error) {
	last, _ := hist.Latest()
	next, err := task.NextDue(last, hist.Snapshot())
	if err != nil {
		return Record{}, err
	}
	return Record{TaskID: id, History: hist, LastDone: &last, NextDue: &next}, nil
}

func (r Record) toStorage() storage.TaskRecord {
	return storage.TaskRecord{
		TaskID:    r.TaskID,
		LastDone:  r.LastDone,
		NextDue:   r.NextDue,
		History:   r.History.Snapshot(),
		UpdatedAt: r.UpdatedAt,
	}
}

// fromStorage restores a record, normalising the history and moving every
// timestamp into loc.
func fromStorage(tr storage.TaskRecord, loc *time.Location) Record {
	rec := Record{
		TaskID:    tr.TaskID,
		History:   ledger.New(tr.History...).In(loc),
		UpdatedAt: tr.UpdatedAt,
	}
	if last, ok := rec.History.Latest(); ok {
		rec.LastDone = &last
	}
	if tr.NextDue != nil && rec.LastDone != nil {
		next := tr.NextDue.In(loc)
		rec.NextDue = &next
	}
	return rec
}
