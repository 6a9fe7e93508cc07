// Package interact wraps a browser session with waits that tolerate re-renders,
// overlays and late-loading content.
package interact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/wait"
)

// DefaultProbeTimeout bounds IsVisible and DismissOptional.
const DefaultProbeTimeout = 3 * time.Second

// Ignorable lists the error kinds every interaction wait polls through.
var Ignorable = []error{browser.ErrStaleReference, browser.ErrNoSuchElement}

// Config tunes an Interactor.
type Config struct {
	Timeout      time.Duration
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// Observer receives wait outcomes and forced-click fallbacks.
type Observer interface {
	wait.Observer
	ObserveForcedClick()
}

// Option configures an Interactor.
type Option func(*options)

type options struct {
	clock    wait.Clock
	observer Observer
}

// WithClock replaces the real clock for every wait.
func WithClock(c wait.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithObserver reports wait and click outcomes.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Interactor performs resilient interactions on a single session.
type Interactor struct {
	driver   browser.Driver
	waiter   *wait.Waiter
	probe    *wait.Waiter
	logger   *zap.Logger
	observer Observer
}

// New creates an Interactor for d.
func New(d browser.Driver, cfg Config, logger *zap.Logger, opts ...Option) *Interactor {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("interact")

	waitOpts := []wait.Option{wait.WithLogger(logger)}
	if o.clock != nil {
		waitOpts = append(waitOpts, wait.WithClock(o.clock))
	}
	if o.observer != nil {
		waitOpts = append(waitOpts, wait.WithObserver(o.observer))
	}
	waiter := wait.New(wait.Config{
		Timeout:      cfg.Timeout,
		PollInterval: cfg.PollInterval,
		Ignore:       Ignorable,
	}, waitOpts...)

	probe := cfg.ProbeTimeout
	if probe <= 0 {
		probe = DefaultProbeTimeout
	}

	return &Interactor{
		driver:   d,
		waiter:   waiter,
		probe:    waiter.WithTimeout(probe),
		logger:   logger,
		observer: o.observer,
	}
}

// Driver returns the underlying session.
func (i *Interactor) Driver() browser.Driver { return i.driver }

// Waiter returns the default waiter.
func (i *Interactor) Waiter() *wait.Waiter { return i.waiter }

// Logger returns the interactor's logger.
func (i *Interactor) Logger() *zap.Logger { return i.logger }

// WaitVisible waits until target resolves to a displayed element.
func (i *Interactor) WaitVisible(ctx context.Context, target browser.Target) (browser.Element, error) {
	return wait.Until(ctx, i.waiter, "visibility of "+target.String(), i.visible(target))
}

// WaitAnyVisible waits until any of targets is displayed and returns the
// element with the index of the target that matched.
func (i *Interactor) WaitAnyVisible(ctx context.Context, targets ...browser.Target) (browser.Element, int, error) {
	preds := make([]wait.Predicate[browser.Element], len(targets))
	names := make([]string, len(targets))
	for n, t := range targets {
		preds[n] = i.visible(t)
		names[n] = t.String()
	}
	return wait.UntilAny(ctx, i.waiter, "visibility of any of ["+strings.Join(names, ", ")+"]", preds...)
}

func (i *Interactor) visible(target browser.Target) wait.Predicate[browser.Element] {
	return func(ctx context.Context) (browser.Element, bool, error) {
		el, err := target.Resolve(ctx, i.driver)
		if err != nil {
			return nil, false, err
		}
		shown, err := el.IsDisplayed(ctx)
		if err != nil {
			return nil, false, err
		}
		return el, shown, nil
	}
}

// IsVisible probes target briefly. Timeouts and errors of any kind yield false.
func (i *Interactor) IsVisible(ctx context.Context, target browser.Target) bool {
	_, err := wait.Until(ctx, i.probe, "visibility of "+target.String(), i.visible(target))
	if err != nil {
		i.logger.Debug("Element not visible.", zap.Stringer("target", target), zap.Error(err))
		return false
	}
	return true
}

// ScrollIntoView centres target in the viewport. It never fails.
func (i *Interactor) ScrollIntoView(ctx context.Context, target browser.Target) {
	el, err := target.Resolve(ctx, i.driver)
	if err == nil {
		_, err = i.driver.RunScript(ctx, browser.ScriptScrollIntoView, el)
	}
	if err != nil {
		i.logger.Debug("Scroll into view skipped.", zap.Stringer("target", target), zap.Error(err))
	}
}

// Hover dispatches pointer-enter events on target and pauses so hover menus can
// open. It never fails.
func (i *Interactor) Hover(ctx context.Context, target browser.Target, pause time.Duration) {
	el, err := target.Resolve(ctx, i.driver)
	if err == nil {
		_, err = i.driver.RunScript(ctx, browser.ScriptHover, el)
	}
	if err != nil {
		i.logger.Debug("Hover skipped.", zap.Stringer("target", target), zap.Error(err))
	}
	_ = i.Settle(ctx, pause)
}

// ScrollDirection is the axis of a page scroll.
type ScrollDirection int

const (
	Vertical ScrollDirection = iota
	Horizontal
)

// ScrollAmount is a scroll distance in CSS pixels.
type ScrollAmount int

const (
	ScrollSmall  ScrollAmount = 300
	ScrollMedium ScrollAmount = 650
	ScrollLarge  ScrollAmount = 1000
)

// ScrollPage scrolls the window. It never fails.
func (i *Interactor) ScrollPage(ctx context.Context, dir ScrollDirection, amount ScrollAmount) {
	x, y := 0, int(amount)
	if dir == Horizontal {
		x, y = int(amount), 0
	}
	if _, err := i.driver.RunScript(ctx, browser.ScriptScrollBy, x, y); err != nil {
		i.logger.Debug("Page scroll skipped.", zap.Int("x", x), zap.Int("y", y), zap.Error(err))
	}
}

// Settle blocks for a fixed delay. Prefer a condition wait wherever the page
// exposes one.
func (i *Interactor) Settle(ctx context.Context, d time.Duration) error {
	return wait.Sleep(ctx, i.waiter.Clock(), d)
}

// WaitURLContains waits until the current URL contains fragment.
func (i *Interactor) WaitURLContains(ctx context.Context, fragment string) (string, error) {
	return wait.Until(ctx, i.waiter, fmt.Sprintf("url containing %q", fragment), i.URLContains(fragment))
}

// URLContains is satisfied with the current URL once it contains fragment.
func (i *Interactor) URLContains(fragment string) wait.Predicate[string] {
	return i.urlMatches(func(u string) bool { return strings.Contains(u, fragment) })
}

// URLChanged is satisfied with the current URL once it differs from from.
func (i *Interactor) URLChanged(from string) wait.Predicate[string] {
	return i.urlMatches(func(u string) bool { return u != from })
}

func (i *Interactor) urlMatches(match func(string) bool) wait.Predicate[string] {
	return func(ctx context.Context) (string, bool, error) {
		u, err := i.driver.CurrentURL(ctx)
		if err != nil {
			return "", false, err
		}
		return u, match(u), nil
	}
}

// DocumentReady reports whether document.readyState is interactive or complete.
func (i *Interactor) DocumentReady(ctx context.Context) (bool, error) {
	state, err := browser.ScriptString(ctx, i.driver, browser.ScriptReadyState)
	if err != nil {
		return false, err
	}
	return state == "complete" || state == "interactive", nil
}

// WaitWindowCount waits until exactly n windows are open.
func (i *Interactor) WaitWindowCount(ctx context.Context, n int) ([]string, error) {
	return wait.Until(ctx, i.waiter, fmt.Sprintf("%d open windows", n), func(ctx context.Context) ([]string, bool, error) {
		handles, err := i.driver.WindowHandles(ctx)
		if err != nil {
			return nil, false, err
		}
		return handles, len(handles) == n, nil
	})
}

// SwitchToNewWindow switches to the first window that is not the current one
// and returns its handle.
func (i *Interactor) SwitchToNewWindow(ctx context.Context) (string, error) {
	current, err := i.driver.CurrentWindow(ctx)
	if err != nil {
		return "", fmt.Errorf("reading current window: %w", err)
	}
	handles, err := i.driver.WindowHandles(ctx)
	if err != nil {
		return "", fmt.Errorf("listing windows: %w", err)
	}
	for _, h := range handles {
		if h != current {
			if err := i.driver.SwitchToWindow(ctx, h); err != nil {
				return "", err
			}
			i.logger.Debug("Switched window.", zap.String("from", current), zap.String("to", h))
			return h, nil
		}
	}
	return "", fmt.Errorf("%w: no window besides %s", browser.ErrNoSuchWindow, current)
}

// DismissOptional clicks target if it shows up within the probe timeout, as
// for consent banners. It reports whether a click happened.
func (i *Interactor) DismissOptional(ctx context.Context, target browser.Target) bool {
	if !i.IsVisible(ctx, target) {
		return false
	}
	probing := *i
	probing.waiter = i.probe
	if err := probing.SafeClick(ctx, target); err != nil {
		i.logger.Debug("Optional dismissal failed.", zap.Stringer("target", target), zap.Error(err))
		return false
	}
	return true
}
