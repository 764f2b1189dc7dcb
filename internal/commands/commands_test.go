package commands

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tasktracker/internal/schedule"
	"tasktracker/internal/tracker"
	kit "tasktracker/internal/transport"
	logx "tasktracker/pkg/logx"
)

type fakeAdapter struct {
	sent chan string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                    { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.sent <- text
	return kit.MessageRef{}, nil
}

func newTracker(t *testing.T, now time.Time) *tracker.Service {
	t.Helper()
	svc := tracker.NewService(tracker.Options{Location: time.UTC, Now: func() time.Time { return now }, Log: logx.Nop()})
	_, err := svc.ApplyTasks(context.Background(), []tracker.TaskDef{
		{ID: "plants", Name: "Water plants", Task: schedule.Task{Mode: schedule.ModeSliding, Params: schedule.SlidingParams{IntervalDays: 7}}},
	})
	if err != nil {
		t.Fatalf("ApplyTasks: %v", err)
	}
	return svc
}

type harness struct {
	m       *Manager
	adapter *fakeAdapter
	updates chan kit.Update
}

func startManager(t *testing.T, opts Options) *harness {
	t.Helper()
	fa := &fakeAdapter{sent: make(chan string, 16)}
	opts.Adapter = fa
	opts.Workers = 1
	opts.Log = logx.Nop()
	if opts.Tracker == nil {
		opts.Tracker = newTracker(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	}
	m := NewManager(opts)
	updates := make(chan kit.Update)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{m: m, adapter: fa, updates: updates}
}

func (h *harness) send(t *testing.T, from int64, text string) string {
	t.Helper()
	h.updates <- kit.Update{Message: &kit.Message{ChatID: 100, FromID: from, Text: text}}
	select {
	case got := <-h.adapter.sent:
		return got
	case <-time.After(3 * time.Second):
		t.Fatalf("no reply to %q", text)
		return ""
	}
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	got := tokenizeCommandLine(`/done plants "2024-01-05 18:30"`)
	want := []string{"/done", "plants", "2024-01-05 18:30"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tokenize = %q, want %q", got, want)
	}
	if commandWord("/Done@tasks_bot") != "done" {
		t.Fatalf("commandWord = %q", commandWord("/Done@tasks_bot"))
	}
}

func TestParseWhen(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, loc)

	tests := []struct {
		in   string
		want time.Time
		nil_ bool
		err  bool
	}{
		{in: "", nil_: true},
		{in: "today", want: now},
		{in: "yesterday", want: now.AddDate(0, 0, -1)},
		{in: "2024-03-08", want: time.Date(2024, 3, 8, 0, 0, 0, 0, loc)},
		{in: "2024-03-08 07:45", want: time.Date(2024, 3, 8, 7, 45, 0, 0, loc)},
		{in: "2024-03-08T05:00:00Z", want: time.Date(2024, 3, 8, 7, 0, 0, 0, loc)},
		{in: "2024-03-08T07:45:30", want: time.Date(2024, 3, 8, 7, 45, 30, 0, loc)},
		{in: "2024-03-08T07:45", want: time.Date(2024, 3, 8, 7, 45, 0, 0, loc)},
		{in: "08/03/2024", err: true},
	}
	for _, tt := range tests {
		got, err := ParseWhen(tt.in, now, loc)
		if tt.err {
			if !errors.Is(err, ErrBadWhen) {
				t.Fatalf("ParseWhen(%q) err = %v, want ErrBadWhen", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseWhen(%q): %v", tt.in, err)
		}
		if tt.nil_ {
			if got != nil {
				t.Fatalf("ParseWhen(%q) = %v, want nil", tt.in, got)
			}
			continue
		}
		if got == nil || !got.Equal(tt.want) {
			t.Fatalf("ParseWhen(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDoneAndHistory(t *testing.T) {
	t.Parallel()
	h := startManager(t, Options{})

	got := h.send(t, 1, "/done plants 2024-01-08")
	if got != "Water plants done. Next due Mon 2024-01-15 00:00 (Due in 5 days)" {
		t.Fatalf("done reply = %q", got)
	}
	got = h.send(t, 1, "/history plants")
	if !strings.Contains(got, "1 completion(s)") || !strings.Contains(got, "Mon 2024-01-08 00:00") {
		t.Fatalf("history reply = %q", got)
	}
	got = h.send(t, 1, "/reset plants")
	if got != "Water plants history cleared" {
		t.Fatalf("reset reply = %q", got)
	}
	got = h.send(t, 1, "/tasks")
	if got != "Water plants (plants): Not scheduled" {
		t.Fatalf("tasks reply = %q", got)
	}
}

func TestArgumentErrors(t *testing.T) {
	t.Parallel()
	h := startManager(t, Options{})

	if got := h.send(t, 1, "/done"); got != "usage: /done <task> [when]" {
		t.Fatalf("missing arg reply = %q", got)
	}
	if got := h.send(t, 1, "/done nope"); got != `unknown task "nope". try /tasks` {
		t.Fatalf("unknown task reply = %q", got)
	}
	if got := h.send(t, 1, "/done plants someday"); !strings.HasPrefix(got, "invalid time") {
		t.Fatalf("bad time reply = %q", got)
	}
	if got := h.send(t, 1, "/frobnicate"); got != "unknown command. try /help" {
		t.Fatalf("unknown command reply = %q", got)
	}
}

func TestOwnerGating(t *testing.T) {
	t.Parallel()
	h := startManager(t, Options{Owners: []int64{1}})

	if got := h.send(t, 2, "/tasks"); got != "unauthorized" {
		t.Fatalf("non-owner reply = %q", got)
	}
	if got := h.send(t, 2, "/help"); !strings.Contains(got, "/done <task> [when]") {
		t.Fatalf("help reply = %q", got)
	}
	h.m.SetOwners([]int64{2})
	if got := h.send(t, 2, "/tasks"); !strings.HasPrefix(got, "Water plants") {
		t.Fatalf("owner after reload reply = %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := startManager(t, Options{RatePerMinute: 1, RateBurst: 1})

	if got := h.send(t, 5, "/help"); !strings.HasPrefix(got, "Commands:") {
		t.Fatalf("first reply = %q", got)
	}
	if got := h.send(t, 5, "/help"); got != "slow down, try again in a minute" {
		t.Fatalf("second reply = %q", got)
	}
	// Limits are per user.
	if got := h.send(t, 6, "/help"); !strings.HasPrefix(got, "Commands:") {
		t.Fatalf("other user reply = %q", got)
	}
}

func TestMenuCommands(t *testing.T) {
	t.Parallel()
	m := NewManager(Options{Adapter: &fakeAdapter{sent: make(chan string, 1)}})
	var names []string
	for _, c := range m.MenuCommands() {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "tasks,done,reset,history,help" {
		t.Fatalf("menu = %v", names)
	}
}
