package storage

import (
	"encoding/json"
	"strings"
	"time"
)

// Shared encoding helpers for the SQL and key/value drivers.

func encodeHistory(h []time.Time) (string, error) {
	if h == nil {
		h = []time.Time{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHistory(raw string) ([]time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []time.Time{}, nil
	}
	var h []time.Time
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, err
	}
	return h, nil
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
