package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Params holds the parameters of exactly one mode.
type Params interface {
	Mode() Mode
	Validate() error
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 &&
		t.Minute >= 0 && t.Minute <= 59 &&
		t.Second >= 0 && t.Second <= 59
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". An empty string is midnight.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return TimeOfDay{}, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, &ConfigurationError{
		Mode:   ModeFixed,
		Field:  "time",
		Reason: fmt.Sprintf("invalid time %q (use HH:MM or HH:MM:SS)", raw),
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short ("mon") or long ("monday") English day names.
func ParseWeekday(raw string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, &ConfigurationError{
			Mode:   ModeFixed,
			Field:  "days",
			Reason: fmt.Sprintf("unknown weekday %q", raw),
		}
	}
	return d, nil
}

// FixedParams schedules a task on calendar slots. An empty Weekdays list means
// every day.
type FixedParams struct {
	Weekdays []time.Weekday
	Time     TimeOfDay
}

func (FixedParams) Mode() Mode { return ModeFixed }

func (p FixedParams) Validate() error {
	for _, d := range p.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return &ConfigurationError{Mode: ModeFixed, Field: "days", Reason: fmt.Sprintf("weekday %d out of range", int(d))}
		}
	}
	if !p.Time.valid() {
		return &ConfigurationError{Mode: ModeFixed, Field: "time", Reason: fmt.Sprintf("time %s out of range", p.Time)}
	}
	return nil
}

// weekdays returns the sorted, de-duplicated weekday set.
func (p FixedParams) weekdays() []time.Weekday {
	seen := map[time.Weekday]bool{}
	out := make([]time.Weekday, 0, len(p.Weekdays))
	for _, d := range p.Weekdays {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SlidingParams schedules a task IntervalDays after each completion.
type SlidingParams struct {
	IntervalDays int
}

func (SlidingParams) Mode() Mode { return ModeSliding }

func (p SlidingParams) Validate() error {
	if p.IntervalDays <= 0 {
		return &ConfigurationError{Mode: ModeSliding, Field: "interval_days", Reason: "must be a positive number of days"}
	}
	return nil
}

// PredictiveParams schedules a task by the average gap between completions.
// InitialGuessDays is used until enough history exists.
type PredictiveParams struct {
	InitialGuessDays int
}

func (PredictiveParams) Mode() Mode { return ModePredictive }

func (p PredictiveParams) Validate() error {
	if p.InitialGuessDays <= 0 {
		return &ConfigurationError{Mode: ModePredictive, Field: "initial_guess_days", Reason: "must be a positive number of days"}
	}
	return nil
}
