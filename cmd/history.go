package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/flowcheck/internal/observability"
	"github.com/xkilldash9x/flowcheck/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent runs, or the steps of one run, from the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Database().URL == "" {
				return errors.New("database.url is not configured (set FLOWCHECK_DATABASE_URL)")
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			s, closePool, err := connectStore(ctx, cfg.Database().URL, observability.GetLogger())
			if err != nil {
				return err
			}
			defer closePool()

			if runID != "" {
				steps, err := s.RunSteps(ctx, runID)
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					return fmt.Errorf("no steps recorded for run %s", runID)
				}
				return printSteps(cmd.OutOrStdout(), steps)
			}

			runs, err := s.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	historyCmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	historyCmd.Flags().StringVar(&runID, "run", "", "show the steps of a single run")
	return historyCmd
}

func verdict(passed bool) string {
	if passed {
		return color.GreenString("PASS")
	}
	return color.RedString("FAIL")
}

func printRuns(w io.Writer, runs []store.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tRESULT\tFAILURES\tREVISION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Second),
			verdict(r.Passed),
			r.Failures,
			r.Revision)
	}
	return tw.Flush()
}

func printSteps(w io.Writer, steps []store.StepRow) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BROWSER\tSTEP\tSTATUS\tDURATION\tMESSAGE")
	for _, s := range steps {
		msg := s.Message
		if s.Error != "" {
			msg += " (" + s.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Browser, s.Name, s.Status, s.Duration.Round(time.Millisecond), msg)
	}
	return tw.Flush()
}
