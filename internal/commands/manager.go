// Package commands routes Telegram text commands to the tracker.
package commands

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	rtsup "tasktracker/internal/runtime/supervisor"
	"tasktracker/internal/tracker"
	kit "tasktracker/internal/transport"
	logx "tasktracker/pkg/logx"
)

const (
	defaultRatePerMinute = 20
	defaultRateBurst     = 5
	defaultTimeout       = 15 * time.Second
)

// Tracker is the part of tracker.Service the commands use.
type Tracker interface {
	Complete(ctx context.Context, id string, at *time.Time) (tracker.View, error)
	Reset(ctx context.Context, id string) (tracker.View, error)
	Get(ctx context.Context, id string) (tracker.View, error)
	List(ctx context.Context) ([]tracker.View, error)
	Location() *time.Location
	Now() time.Time
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// OwnerOnly commands are refused for non-owners when an owner list is set.
	OwnerOnly bool
	Timeout   time.Duration
	Handle    HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Log     logx.Logger
}

type Options struct {
	Adapter kit.Adapter
	Tracker Tracker
	Log     logx.Logger
	Owners  []int64

	RatePerMinute int
	RateBurst     int
	// Workers defaults to NumCPU (min 2).
	Workers int
}

type Manager struct {
	adapter kit.Adapter
	tr      Tracker
	log     logx.Logger
	workers int

	mu     sync.RWMutex
	owners []int64
	cmds   map[string]*Command
	alias  map[string]*Command
	order  []string

	limMu    sync.Mutex
	limRate  rate.Limit
	limBurst int
	limiters map[int64]*rate.Limiter

	jobs chan func()
}

func NewManager(opts Options) *Manager {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		adapter:  opts.Adapter,
		tr:       opts.Tracker,
		log:      log.With(logx.String("comp", "commands")),
		workers:  opts.Workers,
		owners:   append([]int64(nil), opts.Owners...),
		limiters: map[int64]*rate.Limiter{},
		jobs:     make(chan func(), 64),
	}
	m.SetRateLimit(opts.RatePerMinute, opts.RateBurst)
	m.register(m.builtin())
	return m
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *Manager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

// SetRateLimit replaces the per-user limit; existing limiters are dropped.
func (m *Manager) SetRateLimit(perMinute, burst int) {
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	m.limMu.Lock()
	m.limRate = rate.Every(time.Minute / time.Duration(perMinute))
	m.limBurst = burst
	m.limiters = map[int64]*rate.Limiter{}
	m.limMu.Unlock()
}

func (m *Manager) allow(userID int64) bool {
	m.limMu.Lock()
	defer m.limMu.Unlock()
	l, ok := m.limiters[userID]
	if !ok {
		l = rate.NewLimiter(m.limRate, m.limBurst)
		m.limiters[userID] = l
	}
	return l.Allow()
}

func (m *Manager) register(cmds []Command) {
	byName := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		byName[name] = c
		order = append(order, name)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				alias[a] = c
			}
		}
	}
	m.mu.Lock()
	m.cmds, m.alias, m.order = byName, alias, order
	m.mu.Unlock()
}

func (m *Manager) lookup(word string) (*Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[word]; ok {
		return c, true
	}
	c, ok := m.alias[word]
	return c, ok
}

// MenuCommands lists the registered commands for the bot menu.
func (m *Manager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, kit.BotCommand{Command: name, Description: m.cmds[name].Description})
	}
	return out
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.owners) == 0 {
		return true
	}
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// DispatchLoop reads updates until ctx is done or updates is closed. Commands
// run on a bounded worker pool.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 2)
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	sup := rtsup.New(ctx, rtsup.WithLogger(m.log))
	for i := 0; i < workers; i++ {
		sup.Go0("command.worker", func(c context.Context) {
			for {
				select {
				case <-c.Done():
					return
				case job := <-m.jobs:
					if job != nil {
						job()
					}
				}
			}
		})
	}
	defer func() {
		sup.Cancel()
		_ = sup.Wait(context.Background())
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *Manager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if _, err := m.adapter.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func (m *Manager) route(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := m.lookup(commandWord(parts[0]))
	if !ok {
		m.reply(root, chat, "unknown command. try /help")
		return
	}
	if cmd.OwnerOnly && !m.isOwner(msg.FromID) {
		m.reply(root, chat, "unauthorized")
		return
	}
	if !m.allow(msg.FromID) {
		m.reply(root, chat, "slow down, try again in a minute")
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Log: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(m.log), MWRequestLog(m.log), MWTimeout(timeout))
	ctx := tracker.WithActor(root, tracker.Actor{Source: "telegram", ID: msg.FromID})

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		m.reply(root, chat, "busy, try again")
	}
}

func (m *Manager) helpText() string {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	cmds := m.cmds
	m.mu.RUnlock()
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c := cmds[n]
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
