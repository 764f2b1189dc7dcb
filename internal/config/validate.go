package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownDrivers = map[string]bool{
	"": true, "none": true, "file": true,
	"sqlite": true, "sqlite3": true,
	"redis": true,
	"postgres": true, "postgresql": true, "pgx": true,
}

// Validate checks everything that can be checked without opening resources.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Tracker.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.Enabled && strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required when telegram.enabled"))
	}
	if c.Telegram.RatePerMinute < 0 || c.Telegram.RateBurst < 0 {
		errs = append(errs, errors.New("telegram.rate_per_minute/rate_burst: must be >= 0"))
	}
	if s := c.Storage; s != nil {
		d := strings.ToLower(strings.TrimSpace(s.Driver))
		if !knownDrivers[d] {
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.ScheduleTasks(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TaskByID returns the task config with the given id.
func (c *Config) TaskByID(id string) (TaskConfig, bool) {
	id = strings.TrimSpace(id)
	for _, t := range c.Tasks {
		if strings.TrimSpace(t.ID) == id {
			return t, true
		}
	}
	return TaskConfig{}, false
}
