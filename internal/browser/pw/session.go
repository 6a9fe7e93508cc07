// Package pw drives Firefox through playwright-go. The Playwright driver and
// its Firefox build must already be installed.
package pw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
)

const (
	launchTimeout = 60 * time.Second
	// clickTimeout bounds Playwright's own actionability retries so an
	// obscured element is reported as blocked well before the caller's wait
	// runs out.
	clickTimeout = 2 * time.Second
)

// Session is a browser.Driver backed by a Playwright Firefox context.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	stop    func() error
	browser playwright.Browser
	bctx    playwright.BrowserContext

	mu      sync.Mutex
	handles map[playwright.Page]string
	current playwright.Page

	closeOnce sync.Once
	closeErr  error
}

var _ browser.Driver = (*Session)(nil)

// Open starts the Playwright driver and launches Firefox with one page.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("playwright")

	prefs, err := cfg.Firefox.ResolvedPrefs()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	ff, err := pw.Firefox.Launch(LaunchOptions(cfg, prefs))
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch firefox: %w", err)
	}
	bctx, err := ff.NewContext(ContextOptions(cfg))
	if err != nil {
		_ = ff.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	if cfg.PageLoadTimeout > 0 {
		bctx.SetDefaultNavigationTimeout(millis(cfg.PageLoadTimeout))
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = ff.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s := newSession(cfg, logger, bctx, page)
	s.browser = ff
	s.stop = pw.Stop
	logger.Info("Firefox session started.", zap.Bool("headless", cfg.Headless), zap.String("version", ff.Version()))
	return s, nil
}

func newSession(cfg config.BrowserConfig, logger *zap.Logger, bctx playwright.BrowserContext, page playwright.Page) *Session {
	return &Session{
		cfg:     cfg,
		logger:  logger,
		bctx:    bctx,
		handles: map[playwright.Page]string{page: uuid.NewString()},
		current: page,
	}
}

// LaunchOptions builds the Firefox launch options.
func LaunchOptions(cfg config.BrowserConfig, prefs map[string]any) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless:         playwright.Bool(cfg.Headless),
		Timeout:          playwright.Float(millis(launchTimeout)),
		FirefoxUserPrefs: prefs,
	}
	if cfg.Firefox.Binary != "" {
		opts.ExecutablePath = playwright.String(cfg.Firefox.Binary)
	}
	return opts
}

// ContextOptions builds the options for the isolated browser context.
func ContextOptions(cfg config.BrowserConfig) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(cfg.AcceptInsecureCerts),
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.WindowWidth, Height: cfg.WindowHeight}
	}
	return opts
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

func (s *Session) page() playwright.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// selectorEngine prefixes the value with Playwright's engine name.
func selectorEngine(sel browser.Selector) string {
	if sel.By == browser.ByXPath {
		return "xpath=" + sel.Value
	}
	return "css=" + sel.Value
}

func (s *Session) FindAll(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := s.page().QuerySelectorAll(selectorEngine(sel))
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", sel, classify(err))
	}
	out := make([]browser.Element, 0, len(handles))
	for _, h := range handles {
		out = append(out, &element{h: h})
	}
	return out, nil
}

// RunScript evaluates fn with args spread into it. Element handles inside the
// argument array are delivered to the page as DOM nodes.
func (s *Session) RunScript(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	converted := make([]any, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case *element:
			converted[i] = a.h
		case browser.Element:
			return nil, fmt.Errorf("element %T belongs to another engine", arg)
		default:
			converted[i] = arg
		}
	}
	res, err := s.page().Evaluate("(args) => ("+fn+")(...args)", converted)
	if err != nil {
		return nil, classify(err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding script result: %w", err)
	}
	return raw, nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad}
	if s.cfg.PageLoadTimeout > 0 {
		opts.Timeout = playwright.Float(millis(s.cfg.PageLoadTimeout))
	}
	if _, err := s.page().Goto(url, opts); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("navigating to %s timed out after %v: %w", url, s.cfg.PageLoadTimeout, err)
		}
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.page().URL(), nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title, err := s.page().Title()
	if err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

// WindowHandles lists the context's pages in opening order. Pages get a
// random handle the first time they are seen.
func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pages := s.bctx.Pages()

	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		h, ok := s.handles[p]
		if !ok {
			h = uuid.NewString()
			s.handles[p] = h
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *Session) CurrentWindow(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[s.current], nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	if _, err := s.WindowHandles(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	var target playwright.Page
	for p, h := range s.handles {
		if h == handle && !p.IsClosed() {
			target = p
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
	}
	if err := target.BringToFront(); err != nil {
		return fmt.Errorf("activating window %s: %w", handle, err)
	}
	s.mu.Lock()
	s.current = target
	s.mu.Unlock()
	return nil
}

// Close tears down the context, the browser and the driver. It is idempotent.
func (s *Session) Close(context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.bctx != nil {
			errs = append(errs, s.bctx.Close())
		}
		if s.browser != nil {
			errs = append(errs, s.browser.Close())
		}
		if s.stop != nil {
			errs = append(errs, s.stop())
		}
		s.closeErr = errors.Join(errs...)
		s.logger.Info("Firefox session closed.")
	})
	if s.closeErr != nil {
		return fmt.Errorf("closing firefox: %w", s.closeErr)
	}
	return nil
}

type element struct {
	h playwright.ElementHandle
}

var _ browser.Element = (*element)(nil)

func (e *element) IsDisplayed(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	visible, err := e.h.IsVisible()
	if err != nil {
		return false, classify(err)
	}
	return visible, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := e.h.InnerText()
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := clickTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	err := e.h.Click(playwright.ElementHandleClickOptions{Timeout: playwright.Float(millis(timeout))})
	if err == nil {
		return nil
	}
	err = classify(err)
	if errors.Is(err, browser.ErrStaleReference) || errors.Is(err, browser.ErrInteractionBlocked) {
		return err
	}
	if errors.Is(err, playwright.ErrTimeout) {
		// Actionability checks never passed: covered, hidden or still animating.
		return fmt.Errorf("%w: %v", browser.ErrInteractionBlocked, err)
	}
	return err
}

// classify maps Playwright error messages onto the shared sentinel kinds.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not attached to the DOM"),
		strings.Contains(msg, "Element is not attached"),
		strings.Contains(msg, "JSHandle is disposed"),
		strings.Contains(msg, "Execution context was destroyed"):
		return fmt.Errorf("%w: %w", browser.ErrStaleReference, err)
	case strings.Contains(msg, "intercepts pointer events"),
		strings.Contains(msg, "element is not visible"),
		strings.Contains(msg, "element is outside of the viewport"):
		return fmt.Errorf("%w: %w", browser.ErrInteractionBlocked, err)
	}
	return err
}
