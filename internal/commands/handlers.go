package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasktracker/internal/tracker"
)

const timeLayout = "Mon 2006-01-02 15:04"

func (m *Manager) builtin() []Command {
	return []Command{
		{
			Name:        "tasks",
			Aliases:     []string{"list", "ls"},
			Description: "list tasks and their status",
			Usage:       "/tasks",
			OwnerOnly:   true,
			Handle:      m.handleTasks,
		},
		{
			Name:        "done",
			Aliases:     []string{"complete"},
			Description: "mark a task done",
			Usage:       "/done <task> [when]",
			OwnerOnly:   true,
			Handle:      m.handleDone,
		},
		{
			Name:        "reset",
			Description: "clear a task's history",
			Usage:       "/reset <task>",
			OwnerOnly:   true,
			Handle:      m.handleReset,
		},
		{
			Name:        "history",
			Description: "show recent completions",
			Usage:       "/history <task>",
			OwnerOnly:   true,
			Handle:      m.handleHistory,
		},
		{
			Name:        "help",
			Aliases:     []string{"h", "start"},
			Description: "show help",
			Usage:       "/help",
			Handle: func(ctx context.Context, req *Request) error {
				m.reply(ctx, req.Chat, m.helpText())
				return nil
			},
		},
	}
}

func (m *Manager) handleTasks(ctx context.Context, req *Request) error {
	views, err := m.tr.List(ctx)
	if err != nil {
		m.reply(ctx, req.Chat, "failed to list tasks")
		return err
	}
	if len(views) == 0 {
		m.reply(ctx, req.Chat, "no tasks configured")
		return nil
	}
	var b strings.Builder
	for _, v := range views {
		fmt.Fprintf(&b, "%s (%s): %s", v.Name, v.ID, v.Status.Label())
		if v.Record.NextDue != nil {
			fmt.Fprintf(&b, ", next %s", v.Record.NextDue.In(m.tr.Location()).Format(timeLayout))
		}
		b.WriteByte('\n')
	}
	m.reply(ctx, req.Chat, strings.TrimRight(b.String(), "\n"))
	return nil
}

// taskArg replies with usage when the task argument is missing.
func (m *Manager) taskArg(ctx context.Context, req *Request, usage string) (string, bool) {
	if len(req.Args) == 0 || strings.TrimSpace(req.Args[0]) == "" {
		m.reply(ctx, req.Chat, "usage: "+usage)
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(req.Args[0])), true
}

// trackerErr replies with a user-facing message and returns err for logging.
func (m *Manager) trackerErr(ctx context.Context, req *Request, id string, err error) error {
	if errors.Is(err, tracker.ErrUnknownTask) {
		m.reply(ctx, req.Chat, fmt.Sprintf("unknown task %q. try /tasks", id))
		return nil
	}
	m.reply(ctx, req.Chat, "failed: "+err.Error())
	return err
}

func (m *Manager) handleDone(ctx context.Context, req *Request) error {
	id, ok := m.taskArg(ctx, req, "/done <task> [when]")
	if !ok {
		return nil
	}
	at, err := ParseWhen(strings.Join(req.Args[1:], " "), m.tr.Now(), m.tr.Location())
	if err != nil {
		m.reply(ctx, req.Chat, err.Error())
		return nil
	}
	v, err := m.tr.Complete(ctx, id, at)
	if err != nil {
		return m.trackerErr(ctx, req, id, err)
	}
	m.reply(ctx, req.Chat, fmt.Sprintf("%s done. Next due %s (%s)",
		v.Name, v.Record.NextDue.In(m.tr.Location()).Format(timeLayout), v.Status.Label()))
	return nil
}

func (m *Manager) handleReset(ctx context.Context, req *Request) error {
	id, ok := m.taskArg(ctx, req, "/reset <task>")
	if !ok {
		return nil
	}
	v, err := m.tr.Reset(ctx, id)
	if err != nil {
		return m.trackerErr(ctx, req, id, err)
	}
	m.reply(ctx, req.Chat, fmt.Sprintf("%s history cleared", v.Name))
	return nil
}

func (m *Manager) handleHistory(ctx context.Context, req *Request) error {
	id, ok := m.taskArg(ctx, req, "/history <task>")
	if !ok {
		return nil
	}
	v, err := m.tr.Get(ctx, id)
	if err != nil {
		return m.trackerErr(ctx, req, id, err)
	}
	m.reply(ctx, req.Chat, FormatHistory(v, m.tr.Location()))
	return nil
}

// FormatHistory renders a task's completions, newest first.
func FormatHistory(v tracker.View, loc *time.Location) string {
	hist := v.Record.History.Snapshot()
	if len(hist) == 0 {
		return v.Name + ": no completions recorded"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d completion(s)\n", v.Name, len(hist))
	for i := len(hist) - 1; i >= 0; i-- {
		b.WriteString(hist[i].In(loc).Format(timeLayout))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
