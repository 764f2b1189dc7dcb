// Package ledger keeps the bounded completion history of a single task.
//
// A Ledger is a value: Record and Reset return a new Ledger and never mutate the
// receiver, so a caller can hold on to the previous state until the new one is
// persisted.
package ledger

import (
	"encoding/json"
	"sort"
	"time"
)

// Capacity is the maximum number of completions retained per task.
const Capacity = 10

// Ledger is a chronologically ordered (oldest first) list of completion times.
// The zero value is an empty ledger.
type Ledger struct {
	entries []time.Time
}

// New builds a ledger from restored entries. Entries are sorted and trimmed to
// Capacity, keeping the newest.
func New(entries ...time.Time) Ledger {
	if len(entries) == 0 {
		return Ledger{}
	}
	out := make([]time.Time, 0, len(entries))
	for _, ts := range entries {
		if ts.IsZero() {
			continue
		}
		out = append(out, ts)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return Ledger{entries: trim(out)}
}

// Record inserts ts at its chronological position and evicts the oldest entry
// when the ledger grows past Capacity. A timestamp equal to existing entries is
// placed after them.
func (l Ledger) Record(ts time.Time) Ledger {
	i := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].After(ts) })

	out := make([]time.Time, 0, len(l.entries)+1)
	out = append(out, l.entries[:i]...)
	out = append(out, ts)
	out = append(out, l.entries[i:]...)
	return Ledger{entries: trim(out)}
}

// Reset returns an empty ledger.
func (l Ledger) Reset() Ledger { return Ledger{} }

// Snapshot returns a copy of the entries, oldest first.
func (l Ledger) Snapshot() []time.Time {
	if len(l.entries) == 0 {
		return []time.Time{}
	}
	return append([]time.Time(nil), l.entries...)
}

func (l Ledger) Len() int { return len(l.entries) }

// Latest returns the newest entry.
func (l Ledger) Latest() (time.Time, bool) {
	if len(l.entries) == 0 {
		return time.Time{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// In returns a copy with every entry converted to loc.
func (l Ledger) In(loc *time.Location) Ledger {
	if loc == nil || len(l.entries) == 0 {
		return l
	}
	out := make([]time.Time, len(l.entries))
	for i, ts := range l.entries {
		out[i] = ts.In(loc)
	}
	return Ledger{entries: out}
}

func (l Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

func (l *Ledger) UnmarshalJSON(b []byte) error {
	var raw []time.Time
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*l = New(raw...)
	return nil
}

func trim(entries []time.Time) []time.Time {
	if len(entries) > Capacity {
		entries = entries[len(entries)-Capacity:]
	}
	return entries
}
