package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"tasktracker/internal/schedule"
)

var taskIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ScheduleTask converts the raw task config into a validated schedule.Task.
//
// Errors are *schedule.ConfigurationError. Parameters that belong to another
// mode are rejected rather than ignored.
func (t TaskConfig) ScheduleTask() (schedule.Task, error) {
	mode, err := schedule.ParseMode(t.Mode)
	if err != nil {
		return schedule.Task{}, err
	}

	hasFixed := len(t.Days) > 0 || strings.TrimSpace(t.Time) != ""
	if mode != schedule.ModeFixed && hasFixed {
		return schedule.Task{}, mismatch(mode, fixedField(t))
	}
	if mode != schedule.ModeSliding && t.IntervalDays != nil {
		return schedule.Task{}, mismatch(mode, "interval_days")
	}
	if mode != schedule.ModePredictive && t.InitialGuessDays != nil {
		return schedule.Task{}, mismatch(mode, "initial_guess_days")
	}

	var params schedule.Params
	switch mode {
	case schedule.ModeFixed:
		p := schedule.FixedParams{}
		for _, raw := range t.Days {
			d, err := schedule.ParseWeekday(raw)
			if err != nil {
				return schedule.Task{}, err
			}
			p.Weekdays = append(p.Weekdays, d)
		}
		if p.Time, err = schedule.ParseTimeOfDay(t.Time); err != nil {
			return schedule.Task{}, err
		}
		params = p
	case schedule.ModeSliding:
		if t.IntervalDays == nil {
			return schedule.Task{}, &schedule.ConfigurationError{Mode: mode, Field: "interval_days", Reason: "required"}
		}
		params = schedule.SlidingParams{IntervalDays: *t.IntervalDays}
	case schedule.ModePredictive:
		if t.InitialGuessDays == nil {
			return schedule.Task{}, &schedule.ConfigurationError{Mode: mode, Field: "initial_guess_days", Reason: "required"}
		}
		params = schedule.PredictiveParams{InitialGuessDays: *t.InitialGuessDays}
	}

	task := schedule.Task{Mode: mode, Params: params}
	if err := task.Validate(); err != nil {
		return schedule.Task{}, err
	}
	return task, nil
}

func fixedField(t TaskConfig) string {
	if len(t.Days) > 0 {
		return "days"
	}
	return "time"
}

func mismatch(mode schedule.Mode, field string) error {
	return &schedule.ConfigurationError{
		Mode:   mode,
		Field:  field,
		Reason: fmt.Sprintf("not a %s parameter", mode),
	}
}

// ScheduleTasks validates every task and returns them keyed by id.
// Errors carry the config path of the offending task (e.g. "tasks[2].interval_days").
func (c *Config) ScheduleTasks() (map[string]schedule.Task, error) {
	out := make(map[string]schedule.Task, len(c.Tasks))
	for i, tc := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			return nil, fmt.Errorf("%s.id: required", path)
		}
		if !taskIDPattern.MatchString(id) {
			return nil, fmt.Errorf("%s.id: %q must match %s", path, id, taskIDPattern.String())
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("%s.id: duplicate task id %q", path, id)
		}
		task, err := tc.ScheduleTask()
		if err != nil {
			return nil, withPath(path, err)
		}
		out[id] = task
	}
	return out, nil
}

// withPath prefixes a configuration error's field with the task path while
// keeping it matchable with errors.Is(err, schedule.ErrConfiguration).
func withPath(path string, err error) error {
	var ce *schedule.ConfigurationError
	if !errors.As(err, &ce) {
		return fmt.Errorf("%s: %w", path, err)
	}
	cp := *ce
	if cp.Field == "" {
		cp.Field = path
	} else {
		cp.Field = path + "." + cp.Field
	}
	return &cp
}
