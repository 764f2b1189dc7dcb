package schedule

import (
	"fmt"
	"time"
)

// State is the coarse due-state of a task relative to "now".
type State string

const (
	StateUnknown  State = "unknown"
	StateOverdue  State = "overdue"
	StateDueToday State = "due_today"
	StateUpcoming State = "upcoming"
)

// Status is the derived view of a next-due date at a given instant.
type Status struct {
	State         State
	NextDue       time.Time
	DaysRemaining int
}

// Label is a short human readable rendering ("Overdue", "Due today", "Due in 3 days").
func (s Status) Label() string {
	switch s.State {
	case StateOverdue:
		return "Overdue"
	case StateDueToday:
		return "Due today"
	case StateUpcoming:
		if s.DaysRemaining == 1 {
			return "Due in 1 day"
		}
		return fmt.Sprintf("Due in %d days", s.DaysRemaining)
	default:
		return "Not scheduled"
	}
}

// Evaluate derives the status of nextDue at now. A zero nextDue is StateUnknown.
// "Today" is the calendar date of now in now's location.
func Evaluate(nextDue, now time.Time) Status {
	if nextDue.IsZero() {
		return Status{State: StateUnknown}
	}
	st := Status{NextDue: nextDue, DaysRemaining: daysRemaining(nextDue, now)}

	local := nextDue.In(now.Location())
	y1, m1, d1 := local.Date()
	y2, m2, d2 := now.Date()
	switch {
	case nextDue.Before(now):
		st.State = StateOverdue
	case y1 == y2 && m1 == m2 && d1 == d2:
		st.State = StateDueToday
	default:
		st.State = StateUpcoming
	}
	return st
}

// daysRemaining counts whole days until nextDue, rounding a partial day of at
// least one second up.
func daysRemaining(nextDue, now time.Time) int {
	const day = 24 * time.Hour
	d := nextDue.Sub(now)
	days := int(d / day)
	rem := d - time.Duration(days)*day
	if rem < 0 {
		days--
		rem += day
	}
	if rem >= time.Second {
		days++
	}
	return days
}
