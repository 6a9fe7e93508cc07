// Package gorod drives Chrome with go-rod, an alternative to the chromedp engine
// for hosts where chromedp's allocator misbehaves.
package gorod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
)

// clickTimeout bounds rod's wait for an interactable point.
const clickTimeout = 2 * time.Second

// Session is a browser.Driver backed by a rod controlled Chrome.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	launcher *launcher.Launcher
	browser  *rod.Browser

	mu      sync.Mutex
	current *rod.Page

	closeOnce sync.Once
	closeErr  error
}

var _ browser.Driver = (*Session)(nil)

// Open launches Chrome, connects over CDP and opens a blank page.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rod")

	l := NewLauncher(cfg)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	if cfg.AcceptInsecureCerts {
		if err := b.IgnoreCertErrors(true); err != nil {
			logger.Warn("Could not relax certificate checks.", zap.Error(err))
		}
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	logger.Info("Chrome session started.", zap.Bool("headless", cfg.Headless), zap.String("target", string(page.TargetID)))
	return &Session{
		cfg:      cfg,
		logger:   logger,
		launcher: l,
		browser:  b,
		current:  page,
	}, nil
}

// NewLauncher configures the Chrome process. It does not start it.
func NewLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-notifications")
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.AcceptInsecureCerts {
		l = l.Set("ignore-certificate-errors")
	}
	if cfg.Chrome.ExecPath != "" {
		l = l.Bin(cfg.Chrome.ExecPath)
	}
	for _, arg := range cfg.Chrome.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			l = l.Set(flags.Flag(key), value)
		} else {
			l = l.Set(flags.Flag(key))
		}
	}
	return l
}

func (s *Session) page(ctx context.Context) *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Context(ctx)
}

func (s *Session) FindAll(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	var (
		els rod.Elements
		err error
	)
	if sel.By == browser.ByXPath {
		els, err = s.page(ctx).ElementsX(sel.Value)
	} else {
		els, err = s.page(ctx).Elements(sel.Value)
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", sel, classify(err))
	}
	out := make([]browser.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out, nil
}

func (s *Session) RunScript(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	params := make([]any, len(args))
	for i, arg := range args {
		switch a := arg.(type) {
		case *element:
			params[i] = a.el
		case browser.Element:
			return nil, fmt.Errorf("element %T belongs to another engine", arg)
		default:
			params[i] = arg
		}
	}
	res, err := s.page(ctx).Eval(fn, params...)
	if err != nil {
		return nil, classify(err)
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encoding script result: %w", err)
	}
	return raw, nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.cfg.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
		defer cancel()
	}
	p := s.page(ctx)
	err := p.Navigate(url)
	if err == nil {
		err = p.WaitLoad()
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigating to %s timed out after %v: %w", url, s.cfg.PageLoadTimeout, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	info, err := s.page(ctx).Info()
	if err != nil {
		return nil, fmt.Errorf("reading target info: %w", err)
	}
	return info, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	info, err := s.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	info, err := s.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (s *Session) pages(ctx context.Context) (rod.Pages, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	return pages, nil
}

// WindowHandles returns the target IDs of every open page.
func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	pages, err := s.pages(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, string(p.TargetID))
	}
	return handles, nil
}

func (s *Session) CurrentWindow(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.current.TargetID), nil
}

func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	pages, err := s.pages(ctx)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if string(p.TargetID) != handle {
			continue
		}
		if _, err := p.Context(ctx).Activate(); err != nil {
			return fmt.Errorf("activating window %s: %w", handle, err)
		}
		s.mu.Lock()
		s.current = p
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
}

// Close shuts the browser down and removes its profile. It is idempotent.
func (s *Session) Close(context.Context) error {
	s.closeOnce.Do(func() {
		if s.browser != nil {
			s.closeErr = s.browser.Close()
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		s.logger.Info("Chrome session closed.")
	})
	if s.closeErr != nil {
		return fmt.Errorf("closing chrome: %w", s.closeErr)
	}
	return nil
}

type element struct {
	el *rod.Element
}

var _ browser.Element = (*element)(nil)

// attached fails with ErrStaleReference once the node left the document.
// rod keeps detached nodes alive through their remote object, so reads on
// them would otherwise succeed.
func (e *element) attached(ctx context.Context) (*rod.Element, error) {
	el := e.el.Context(ctx)
	res, err := el.Eval(browser.ScriptConnected, el)
	if err != nil {
		return nil, classify(err)
	}
	if !res.Value.Bool() {
		return nil, fmt.Errorf("%w: node is detached", browser.ErrStaleReference)
	}
	return el, nil
}

func (e *element) IsDisplayed(ctx context.Context) (bool, error) {
	el, err := e.attached(ctx)
	if err != nil {
		return false, err
	}
	visible, err := el.Visible()
	if err != nil {
		return false, classify(err)
	}
	return visible, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	el, err := e.attached(ctx)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func (e *element) Click(ctx context.Context) error {
	el, err := e.attached(ctx)
	if err != nil {
		return err
	}
	err = el.Timeout(clickTimeout).Click(proto.InputMouseButtonLeft, 1)
	if err == nil {
		return nil
	}
	err = classify(err)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The click timeout, not the caller's, ran out waiting for an
		// interactable point.
		return fmt.Errorf("%w: %v", browser.ErrInteractionBlocked, err)
	}
	return err
}

// classify maps rod's typed errors and CDP messages onto the shared kinds.
func classify(err error) error {
	var (
		covered      *rod.CoveredError
		notClickable *rod.NotInteractableError
		noShape      *rod.InvisibleShapeError
		gone         *rod.ObjectNotFoundError
	)
	switch {
	case errors.As(err, &covered), errors.As(err, &notClickable), errors.As(err, &noShape):
		return fmt.Errorf("%w: %w", browser.ErrInteractionBlocked, err)
	case errors.As(err, &gone):
		return fmt.Errorf("%w: %w", browser.ErrStaleReference, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "Could not find node with given id") ||
		strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Could not find object with given id") {
		return fmt.Errorf("%w: %w", browser.ErrStaleReference, err)
	}
	return err
}
