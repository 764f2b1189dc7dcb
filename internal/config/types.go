package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Tracker  TrackerConfig  `json:"tracker"`
	Telegram TelegramConfig `json:"telegram"`

	// Storage is optional; nil keeps records in memory only.
	Storage *StorageConfig `json:"storage,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

// TrackerConfig controls the tracker host.
type TrackerConfig struct {
	// Timezone is an IANA name; completions are recorded in this location.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// Sweep is the status sweep trigger: a cron expression, "@every 5m",
	// a Go duration or "HH:MM" (an interval of hours and minutes). Empty
	// disables the sweep.
	Sweep string `json:"sweep,omitempty"`
}

// Location resolves Timezone.
func (t TrackerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(t.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("tracker.timezone: %w", err)
	}
	return loc, nil
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/tasks.json" }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN is used by the redis and postgres drivers (do not log).
	DSN         string `json:"dsn,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`   // redis
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	AuditMax    int    `json:"audit_max,omitempty"`    // redis audit list cap
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// Per-user command rate limit. Zero values fall back to defaults.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
	RateBurst     int `json:"rate_burst,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TaskConfig is one configured recurring task.
//
// Only the fields of the configured mode may be set:
//   - fixed: days, time
//   - sliding: interval_days
//   - predictive: initial_guess_days
type TaskConfig struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Mode string `json:"mode"`

	Days []string `json:"days,omitempty"`
	Time string   `json:"time,omitempty"`

	IntervalDays     *int `json:"interval_days,omitempty"`
	InitialGuessDays *int `json:"initial_guess_days,omitempty"`
}

// DisplayName falls back to the id when no name is configured.
func (t TaskConfig) DisplayName() string {
	if n := strings.TrimSpace(t.Name); n != "" {
		return n
	}
	return t.ID
}
