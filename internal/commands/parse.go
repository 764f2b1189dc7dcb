package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Examples:
//
//	/done dishes "2024-01-05 18:30"
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// commandWord strips the leading slash and a "@botname" suffix.
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}

var ErrBadWhen = errors.New("invalid time")

var whenLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseWhen parses a completion time. Empty input returns nil (now).
//
// Accepted: RFC 3339, "YYYY-MM-DD", "YYYY-MM-DD HH:MM[:SS]" (space or T),
// "today", "yesterday".
// Values without an offset are read in loc; a bare date means its midnight.
// "yesterday" keeps now's wall clock.
func ParseWhen(raw string, now time.Time, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	switch strings.ToLower(raw) {
	case "now", "today":
		return &now, nil
	case "yesterday":
		t := now.AddDate(0, 0, -1)
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.In(loc)
		return &t, nil
	}
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w %q (use YYYY-MM-DD, \"YYYY-MM-DD HH:MM\", RFC 3339, today or yesterday)", ErrBadWhen, raw)
}
