package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// predictiveMinHistory is the number of completions needed before predictive
// mode stops using the initial guess.
const predictiveMinHistory = 3

// Seconds are required so that a time-of-day with seconds round-trips.
var fixedParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is a validated mode plus its parameters.
type Task struct {
	Mode   Mode
	Params Params
}

// Validate checks that Params belong to Mode and are themselves valid.
func (t Task) Validate() error {
	if !t.Mode.Valid() {
		return &ConfigurationError{Mode: t.Mode, Field: "mode", Reason: "unknown mode"}
	}
	if t.Params == nil {
		return &ConfigurationError{Mode: t.Mode, Reason: "missing parameters"}
	}
	if got := t.Params.Mode(); got != t.Mode {
		return &ConfigurationError{
			Mode:   t.Mode,
			Reason: fmt.Sprintf("parameters for mode %s given", got),
		}
	}
	return t.Params.Validate()
}

// NextDue is shorthand for ComputeNextDue(t.Mode, t.Params, completedAt, history).
func (t Task) NextDue(completedAt time.Time, history []time.Time) (time.Time, error) {
	return ComputeNextDue(t.Mode, t.Params, completedAt, history)
}

// ComputeNextDue derives the next due date for a completion at completedAt.
//
// history is the task's completion history after recording completedAt, oldest
// first. Only predictive mode reads it.
//
// The only error is a *ConfigurationError for a mode/parameter mismatch or an
// invalid parameter.
func ComputeNextDue(mode Mode, params Params, completedAt time.Time, history []time.Time) (time.Time, error) {
	if err := (Task{Mode: mode, Params: params}).Validate(); err != nil {
		return time.Time{}, err
	}

	switch p := params.(type) {
	case FixedParams:
		return nextFixed(p, completedAt)
	case SlidingParams:
		return completedAt.AddDate(0, 0, p.IntervalDays), nil
	case PredictiveParams:
		if len(history) < predictiveMinHistory {
			return completedAt.AddDate(0, 0, p.InitialGuessDays), nil
		}
		return addMeanGap(completedAt, history), nil
	default:
		return time.Time{}, &ConfigurationError{
			Mode:   mode,
			Reason: fmt.Sprintf("unsupported parameter type %T", params),
		}
	}
}

// nextFixed returns the first slot strictly after completedAt, evaluated in
// completedAt's location.
func nextFixed(p FixedParams, completedAt time.Time) (time.Time, error) {
	sched, err := fixedSchedule(p, completedAt.Location())
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(completedAt)
	if next.IsZero() {
		return time.Time{}, &ConfigurationError{Mode: ModeFixed, Reason: "no matching slot"}
	}
	return next, nil
}

func fixedSchedule(p FixedParams, loc *time.Location) (*cron.SpecSchedule, error) {
	dow := "*"
	if days := p.weekdays(); len(days) > 0 {
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = strconv.Itoa(int(d))
		}
		dow = strings.Join(parts, ",")
	}
	expr := fmt.Sprintf("%d %d %d * * %s", p.Time.Second, p.Time.Minute, p.Time.Hour, dow)

	s, err := fixedParser.Parse(expr)
	if err != nil {
		return nil, &ConfigurationError{Mode: ModeFixed, Reason: err.Error()}
	}
	spec, ok := s.(*cron.SpecSchedule)
	if !ok {
		return nil, &ConfigurationError{Mode: ModeFixed, Reason: fmt.Sprintf("unexpected schedule type %T", s)}
	}
	if loc != nil {
		spec.Location = loc
	}
	return spec, nil
}

// addMeanGap adds the arithmetic mean of the gaps between consecutive entries
// to t. The gaps telescope to last-first, which is averaged in whole seconds
// plus a nanosecond remainder so spans beyond time.Duration's range stay exact.
func addMeanGap(t time.Time, history []time.Time) time.Time {
	first, last := history[0], history[0]
	for _, h := range history[1:] {
		if h.Before(first) {
			first = h
		}
		if h.After(last) {
			last = h
		}
	}
	n := int64(len(history) - 1)
	span := last.Unix() - first.Unix()
	nanos := int64(last.Nanosecond() - first.Nanosecond())

	sec := span / n
	nsec := (span%n*int64(time.Second) + nanos) / n
	return time.Unix(t.Unix()+sec, int64(t.Nanosecond())+nsec).In(t.Location())
}
