// Package cli provides the tasktracker command-line interface.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"tasktracker/internal/app"
	"tasktracker/internal/config"
	"tasktracker/internal/tracker"
	logx "tasktracker/pkg/logx"
)

const defaultConfigPath = "./config.yaml"

// clock is swapped in tests.
var clock func() time.Time

type globalOpts struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:   "tasktracker",
		Short: "Recurring task tracker",
		Long: `tasktracker computes next due dates for recurring chores and keeps
a short completion history per task.

Tasks are scheduled in one of three modes:
  fixed       on given weekdays at a time of day
  sliding     a fixed number of days after each completion
  predictive  the average gap between recent completions`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "path to config file (yaml, toml or json)")
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level for one-shot commands")

	root.AddCommand(
		newRunCommand(opts),
		newCheckCommand(opts),
		newCompleteCommand(opts),
		newResetCommand(opts),
		newStatusCommand(opts),
		newHistoryCommand(opts),
		newForgetCommand(opts),
	)
	return root
}

// session is an opened tracker for one-shot commands.
type session struct {
	cfg  *config.Config
	deps app.TrackerDeps
}

func (s *session) Close() error { return s.deps.Close() }

func openSession(ctx context.Context, opts *globalOpts) (*session, error) {
	cfg, err := config.NewConfigManager(opts.ConfigPath).Load()
	if err != nil {
		return nil, err
	}
	log := logx.NewConsole(opts.LogLevel)
	deps, err := app.OpenTracker(ctx, cfg, nil, log, clock)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, deps: deps}, nil
}

func cliContext(cmd *cobra.Command) context.Context {
	return tracker.WithActor(cmd.Context(), tracker.Actor{Source: "cli"})
}
