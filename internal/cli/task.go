package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tasktracker/internal/commands"
	"tasktracker/internal/tracker"
)

const timeLayout = "Mon 2006-01-02 15:04"

func newCompleteCommand(opts *globalOpts) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:     "complete <task>",
		Aliases: []string{"done"},
		Short:   "Mark a task done",
		Long: `Record a completion and print the new next due date.

Examples:
  # Completed now
  tasktracker complete plants

  # Completed yesterday evening
  tasktracker complete plants --at "2024-03-09 19:30"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			tr := s.deps.Tracker
			when, err := commands.ParseWhen(at, tr.Now(), tr.Location())
			if err != nil {
				return err
			}
			v, err := tr.Complete(cliContext(cmd), args[0], when)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s done. Next due %s (%s)\n",
				v.Name, v.Record.NextDue.In(tr.Location()).Format(timeLayout), v.Status.Label())
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", `completion time: RFC 3339, YYYY-MM-DD, "YYYY-MM-DD HH:MM", today or yesterday`)
	return cmd
}

func newResetCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <task>",
		Short: "Clear a task's completion history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.deps.Tracker.Reset(cliContext(cmd), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s history cleared\n", v.Name)
			return nil
		},
	}
}

func newStatusCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:     "status [task]",
		Aliases: []string{"ls"},
		Short:   "Show task status",
		Long: `Display every task (or one task) as tab-separated columns:
  ID, MODE, STATUS, LAST DONE, NEXT DUE`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			tr := s.deps.Tracker
			var views []tracker.View
			if len(args) == 1 {
				v, err := tr.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				views = []tracker.View{v}
			} else if views, err = tr.List(cmd.Context()); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tMODE\tSTATUS\tLAST DONE\tNEXT DUE")
			for _, v := range views {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.Mode, v.Status.Label(),
					formatOptional(v.Record.LastDone, tr), formatOptional(v.Record.NextDue, tr))
			}
			return w.Flush()
		},
	}
}

func newHistoryCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task>",
		Short: "Show recent completions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.deps.Tracker.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), commands.FormatHistory(v, s.deps.Tracker.Location()))
			return nil
		},
	}
}

func newForgetCommand(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <task>",
		Short: "Delete the stored record of a task removed from the config",
		Long: `Delete the history and due dates kept for a task id that is no longer
configured. Configured tasks are refused; use reset for those.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.deps.Tracker.Forget(cliContext(cmd), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s forgotten\n", args[0])
			return nil
		},
	}
}

func formatOptional(t *time.Time, tr *tracker.Service) string {
	if t == nil {
		return "-"
	}
	return t.In(tr.Location()).Format(timeLayout)
}
