package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser/driver"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/flow"
	"github.com/xkilldash9x/flowcheck/internal/observability"
	"github.com/xkilldash9x/flowcheck/internal/reporting"
	"github.com/xkilldash9x/flowcheck/internal/store"
)

// ErrRunFailed is returned when at least one browser's flow failed. The
// summary has already been printed, so callers only set the exit status.
var ErrRunFailed = errors.New("flow run failed")

// Seams for tests.
var (
	openBrowser  flow.OpenFunc = driver.Open
	connectStore               = store.Connect
)

func newRunCmd() *cobra.Command {
	var (
		browsers  []string
		headless  bool
		baseURL   string
		reportDir string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the career flow once per configured browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("browser") {
				cfg.SetBrowserKinds(browsers)
			}
			if flags.Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if flags.Changed("base-url") {
				cfg.SetFlowBaseURL(baseURL)
			}
			if flags.Changed("report-dir") {
				cfg.SetReportDir(reportDir)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			return executeRun(ctx, cmd, cfg, observability.GetLogger())
		},
	}

	runCmd.Flags().StringSliceVar(&browsers, "browser", nil, "browsers to run, comma separated (chrome, firefox)")
	runCmd.Flags().BoolVar(&headless, "headless", false, "run browsers without a window")
	runCmd.Flags().StringVar(&baseURL, "base-url", "", "home page the flow starts from")
	runCmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for run reports")
	return runCmd
}

func executeRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	runner := flow.NewRunner(cfg, logger, flow.WithOpener(openBrowser), flow.WithMetrics(metrics))

	kinds := make([]string, len(cfg.Browser().Kinds))
	for i, k := range cfg.Browser().Kinds {
		kinds[i] = strings.ToLower(strings.TrimSpace(k))
	}
	run := runner.Run(ctx, kinds)

	rev, err := reporting.Revision(cfg.Report().RepoPath)
	if err != nil {
		logger.Warn("Could not determine harness revision.", zap.Error(err))
	}
	run.Revision = rev

	paths, err := reporting.WriteAll(cfg.Report().Dir, cfg.Report().Formats, run)
	if err != nil {
		logger.Error("Writing reports failed.", zap.Error(err))
	}
	for _, p := range paths {
		logger.Info("Report written.", zap.String("path", p))
	}

	if path := cfg.Report().MetricsFile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			logger.Error("Writing metrics failed.", zap.Error(err))
		}
	}

	if url := cfg.Database().URL; url != "" {
		if err := persistRun(ctx, url, run, logger); err != nil {
			logger.Error("Persisting run history failed.", zap.Error(err))
		}
	}

	reporting.PrintSummary(cmd.OutOrStdout(), run)
	if !run.Passed() {
		return ErrRunFailed
	}
	return nil
}

func persistRun(ctx context.Context, url string, run *flow.Run, logger *zap.Logger) error {
	ctx = context.WithoutCancel(ctx)
	s, closePool, err := connectStore(ctx, url, logger)
	if err != nil {
		return err
	}
	defer closePool()
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.SaveRun(ctx, run)
}
