// Package schedule computes next-due dates for recurring tasks.
//
// Three strategies are supported:
//   - fixed: the next configured weekday/time-of-day slot strictly after completion
//   - sliding: a fixed number of days after the actual completion
//   - predictive: the mean gap between recorded completions, with an initial guess
//     until enough history exists
//
// Everything here is a pure function of its inputs. Callers own persistence and are
// expected to serialize completions of the same task.
package schedule

import (
	"fmt"
	"strings"
)

// Mode is the scheduling strategy assigned to a task.
type Mode string

const (
	ModeFixed      Mode = "fixed"
	ModeSliding    Mode = "sliding"
	ModePredictive Mode = "predictive"
)

func (m Mode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFixed, ModeSliding, ModePredictive:
		return true
	default:
		return false
	}
}

// ParseMode parses a mode name (case-insensitive).
func ParseMode(raw string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(raw)))
	if m == "" {
		return "", &ConfigurationError{Field: "mode", Reason: "mode required"}
	}
	if !m.Valid() {
		return "", &ConfigurationError{
			Field:  "mode",
			Reason: fmt.Sprintf("unknown mode %q (use fixed, sliding or predictive)", raw),
		}
	}
	return m, nil
}
