package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tasktracker/internal/app"
	"tasktracker/internal/config"
)

func newRunCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracker service",
		Long: `Run the long-lived service: status sweep, config hot reload and,
when enabled, the Telegram command bot.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(opts.ConfigPath)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopAppStop
			select {
			case sig := <-sigCh:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

func newCheckCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(opts.ConfigPath).Parse()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return errors.Join(errors.New("config invalid"), err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tasks)\n", opts.ConfigPath, len(cfg.Tasks))
			return nil
		},
	}
}
