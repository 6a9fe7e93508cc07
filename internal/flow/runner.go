// Package flow drives the career flow end to end in one or more browsers and
// records a result per step.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/browser/driver"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
	"github.com/xkilldash9x/flowcheck/internal/observability"
	"github.com/xkilldash9x/flowcheck/internal/pages"
	"github.com/xkilldash9x/flowcheck/internal/wait"
)

const closeTimeout = 30 * time.Second

// OpenFunc opens a browser session.
type OpenFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browser.Driver, error)

// Runner executes the flow. It is safe for concurrent use; every browser gets
// its own session.
type Runner struct {
	cfg     config.Interface
	logger  *zap.Logger
	open    OpenFunc
	metrics *observability.Metrics
	clock   wait.Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithOpener replaces driver.Open.
func WithOpener(open OpenFunc) Option {
	return func(r *Runner) { r.open = open }
}

// WithMetrics records waits, forced clicks and step durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces the real clock for waits and step timing.
func WithClock(c wait.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a Runner.
func NewRunner(cfg config.Interface, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		logger: logger.Named("flow"),
		open:   driver.Open,
		clock:  wait.RealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the flow once per browser kind, concurrently. Results keep the
// order of kinds.
func (r *Runner) Run(ctx context.Context, kinds []string) *Run {
	run := &Run{
		ID:      uuid.NewString(),
		Started: r.clock.Now().UTC(),
		Results: make([]Result, len(kinds)),
	}
	r.logger.Info("Starting run.", zap.String("run_id", run.ID), zap.Strings("browsers", kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			run.Results[i] = r.RunBrowser(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()

	run.Finished = r.clock.Now().UTC()
	r.logger.Info("Run finished.",
		zap.String("run_id", run.ID),
		zap.Bool("passed", run.Passed()),
		zap.Int("failures", run.Failures()),
		zap.Duration("duration", run.Finished.Sub(run.Started)))
	return run
}

// RunBrowser executes the flow in a fresh session of the given kind. The
// first failing step ends the flow and the rest are reported as skipped.
func (r *Runner) RunBrowser(ctx context.Context, kind string) Result {
	bcfg := r.cfg.Browser().ForKind(kind)
	logger := r.logger.With(zap.String("browser", bcfg.Kind))
	res := Result{Browser: bcfg.Kind, Started: r.clock.Now().UTC()}
	defer func() { res.Duration = r.clock.Now().Sub(res.Started) }()

	var rec *observability.Recorder
	if r.metrics != nil {
		rec = r.metrics.ForBrowser(bcfg.Kind)
	}

	res.Engine, _ = driver.Resolve(bcfg)
	d, err := r.open(ctx, bcfg, logger)
	if err != nil {
		logger.Error("Could not open browser session.", zap.Error(err))
		res.Error = err.Error()
		res.Steps = skipAll(steps(nil, r.cfg.Flow()))
		return res
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := d.Close(closeCtx); err != nil {
			logger.Warn("Closing browser session failed.", zap.Error(err))
		}
	}()

	wcfg := r.cfg.Wait()
	ix := interact.New(d, interact.Config{
		Timeout:      wcfg.Timeout,
		PollInterval: wcfg.PollInterval,
		ProbeTimeout: wcfg.ProbeTimeout,
	}, logger, interact.WithClock(r.clock), interact.WithObserver(rec))

	plan := steps(ix, r.cfg.Flow())
	res.Steps = make([]StepResult, 0, len(plan))
	for n, s := range plan {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled.", zap.Error(err))
			res.Steps = append(res.Steps, skipAll(plan[n:])...)
			break
		}
		sr := r.runStep(ctx, logger, s)
		rec.ObserveStep(sr.Name, string(sr.Status), sr.Duration)
		res.Steps = append(res.Steps, sr)
		if sr.Status == StatusFailed {
			res.Steps = append(res.Steps, skipAll(plan[n+1:])...)
			break
		}
	}
	return res
}

func (r *Runner) runStep(ctx context.Context, logger *zap.Logger, s step) StepResult {
	sr := StepResult{Name: s.name, Started: r.clock.Now().UTC()}
	ok, err := s.run(ctx)
	sr.Duration = r.clock.Now().Sub(sr.Started)

	switch {
	case err != nil:
		sr.Status = StatusFailed
		sr.Message = s.message
		sr.Error = err.Error()
		if wait.IsTimeout(err) || errors.Is(err, pages.ErrNoJobs) {
			logger.Warn("Step failed.", zap.String("step", s.name), zap.Error(err))
		} else {
			logger.Error("Step failed.", zap.String("step", s.name), zap.Error(err))
		}
	case !ok:
		sr.Status = StatusFailed
		sr.Message = s.message
		logger.Warn("Step assertion failed.", zap.String("step", s.name), zap.String("message", s.message))
	default:
		sr.Status = StatusPassed
		logger.Info("Step passed.", zap.String("step", s.name), zap.Duration("duration", sr.Duration))
	}
	return sr
}

func skipAll(plan []step) []StepResult {
	out := make([]StepResult, len(plan))
	for i, s := range plan {
		out[i] = StepResult{Name: s.name, Status: StatusSkipped}
	}
	return out
}
