// Package app wires the tracker, its storage, the status sweep and the
// Telegram command surface into one long-running process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tasktracker/internal/commands"
	"tasktracker/internal/config"
	"tasktracker/internal/eventbus"
	rtsup "tasktracker/internal/runtime/supervisor"
	"tasktracker/internal/sweep"
	"tasktracker/internal/tracker"
	kit "tasktracker/internal/transport"
	"tasktracker/internal/transport/telegram"
	logx "tasktracker/pkg/logx"
	"tasktracker/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	deps TrackerDeps

	sweep *sweep.Service

	// adapter and cmdm are nil when telegram is disabled.
	adapter kit.Adapter
	cmdm    *commands.Manager
	updates chan kit.Update
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	deps, err := OpenTracker(context.Background(), cfg, bus, log, nil)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		deps:    deps,
		sweep:   sweep.New(deps.Tracker, bus, log),
		updates: make(chan kit.Update, 256),
	}

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
		if err != nil {
			_ = a.close()
			return nil, err
		}
		a.adapter = ad
		a.cmdm = commands.NewManager(commands.Options{
			Adapter:       ad,
			Tracker:       deps.Tracker,
			Log:           log,
			Owners:        cfg.Telegram.OwnerUserIDs,
			RatePerMinute: cfg.Telegram.RatePerMinute,
			RateBurst:     cfg.Telegram.RateBurst,
		})
	}
	return a, nil
}

func (a *App) close() error {
	err := a.deps.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) Tracker() *tracker.Service { return a.deps.Tracker }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := taskDefs(cfg); err != nil {
		return err
	}
	if cfg.Tracker.Sweep != "" {
		if _, err := sweep.ParseSpec(cfg.Tracker.Sweep); err != nil {
			return fmt.Errorf("tracker.sweep: %w", err)
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	// Log events before anything can publish them.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	if err := a.sweep.Start(a.sup.Context(), cfg.Tracker.Sweep, a.deps.Tracker.Location()); err != nil {
		return err
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
		if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
			a.sup.Go0("telegram.menu", func(c context.Context) {
				mctx, cancel := context.WithTimeout(c, 10*time.Second)
				defer cancel()
				if err := mu.UpdateMenuCommands(mctx, a.cmdm.MenuCommands()); err != nil {
					a.log.Warn("menu commands update failed", logx.Err(err))
				}
			})
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", systemd.Watchdog)

	ids := a.deps.Tracker.IDs()
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = systemd.Status("tracking %d tasks", len(ids))
	a.log.Info("app started", logx.Int("tasks", len(ids)), logx.Bool("telegram", a.adapter != nil))
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeTaskStatus:
		ch, ok := e.Data.(sweep.StatusChange)
		if !ok {
			return
		}
		if ch.From == "" {
			a.log.Debug("task status", logx.String("task", ch.TaskID), logx.String("status", ch.Status.Label()))
			return
		}
		a.log.Info("task status changed",
			logx.String("task", ch.TaskID),
			logx.String("from", string(ch.From)),
			logx.String("to", string(ch.To)),
			logx.String("status", ch.Status.Label()),
		)
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("task", e.TaskID), logx.Time("time", e.Time))
	}
}

// applyConfig applies a committed config. Storage, timezone and telegram
// credentials are fixed for the process lifetime.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedTasks := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	a.logs.Apply(logConfig(newCfg))

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if oldCfg != nil && oldCfg.Tracker.Timezone != newCfg.Tracker.Timezone {
		a.log.Warn("tracker.timezone changed; restart required for changes to take effect")
	}
	if oldCfg != nil && (oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled || oldCfg.Telegram.Token != newCfg.Telegram.Token) {
		a.log.Warn("telegram enable/token changed; restart required for changes to take effect")
	}

	if changed("tasks") {
		defs, err := taskDefs(newCfg)
		if err == nil {
			var recomputed []string
			recomputed, err = a.deps.Tracker.ApplyTasks(ctx, defs)
			if len(recomputed) > 0 {
				a.log.Info("next due recomputed after config change", logx.String("tasks", strings.Join(recomputed, ",")))
			}
		}
		if err != nil {
			a.log.Warn("task config apply failed", logx.Err(err))
		}
		a.log.Debug("task config changes", logx.String("tasks", strings.Join(changedTasks, ",")))
	}

	if err := a.sweep.Apply(ctx, newCfg.Tracker.Sweep, a.deps.Tracker.Location()); err != nil {
		a.log.Warn("invalid sweep config; keeping previous", logx.Err(err))
	}

	if a.cmdm != nil {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
		a.cmdm.SetRateLimit(newCfg.Telegram.RatePerMinute, newCfg.Telegram.RateBurst)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	// step runs one shutdown step bounded by max (never beyond ctx's deadline).
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("sweep", 2*time.Second, func(context.Context) error { a.sweep.Stop(); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	}
	// Wait for supervised goroutines before closing the store they write to.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.deps.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
