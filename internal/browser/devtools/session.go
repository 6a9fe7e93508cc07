// Package devtools drives Chrome over the DevTools protocol with chromedp.
package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
)

// runActionsFunc executes chromedp actions against the tab identified by handle.
type runActionsFunc func(ctx context.Context, handle string, actions ...chromedp.Action) error

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Session is a browser.Driver backed by a local Chrome process.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel context.CancelFunc
	rootHandle  string

	mu      sync.Mutex
	tabs    map[string]tab
	current string

	runActions runActionsFunc
	closeOnce  sync.Once
	closeErr   error
}

var _ browser.Driver = (*Session)(nil)

// Open launches Chrome and attaches to its first tab.
func Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cdp")

	// The browser lives until Close, not until ctx expires.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), AllocatorOptions(cfg)...)
	rootCtx, rootCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	// The first Run starts the process and must use the tab context itself.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(rootCtx) }()
	select {
	case err := <-started:
		if err != nil {
			rootCancel()
			allocCancel()
			return nil, fmt.Errorf("starting chrome: %w", err)
		}
	case <-ctx.Done():
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", ctx.Err())
	}

	handle := string(chromedp.FromContext(rootCtx).Target.TargetID)
	s := &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		rootHandle:  handle,
		tabs:        map[string]tab{handle: {ctx: rootCtx, cancel: rootCancel}},
		current:     handle,
	}
	s.runActions = s.run
	logger.Info("Chrome session started.", zap.Bool("headless", cfg.Headless), zap.String("target", handle))
	return s, nil
}

// AllocatorOptions translates the browser config into exec allocator options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.Chrome.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Chrome.ExecPath))
	}
	return opts
}

// launchFlags returns the command line switches layered over chromedp's
// defaults. A false value removes a default switch.
func launchFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"headless":              cfg.Headless,
		"disable-gpu":           true,
		"no-sandbox":            true,
		"disable-dev-shm-usage": true,
		"disable-notifications": true,
	}
	if cfg.AcceptInsecureCerts {
		flags["ignore-certificate-errors"] = true
	}
	for _, arg := range cfg.Chrome.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// run executes actions in the tab's context, canceled early if ctx ends.
func (s *Session) run(ctx context.Context, handle string, actions ...chromedp.Action) error {
	s.mu.Lock()
	t, ok := s.tabs[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
	}
	combined, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

func (s *Session) currentHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) FindAll(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	handle := s.currentHandle()
	var nodes []*cdp.Node
	err := s.runActions(ctx, handle, chromedp.Nodes(sel.Value, &nodes, queryOption(sel), chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", sel, classify(err))
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{s: s, handle: handle, node: n})
	}
	return out, nil
}

func queryOption(sel browser.Selector) chromedp.QueryOption {
	if sel.By == browser.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQueryAll
}

// RunScript calls fn with args. With element arguments the function is
// invoked on the first element's remote object so every handle can be passed
// by reference; otherwise it is evaluated in the page's global scope.
func (s *Session) RunScript(ctx context.Context, fn string, args ...any) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.runActions(ctx, s.currentHandle(), chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		out, err = s.callFunction(ctx, fn, args)
		return err
	}))
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Session) callFunction(ctx context.Context, fn string, args []any) (json.RawMessage, error) {
	var receiver runtime.RemoteObjectID
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, arg := range args {
		if el, ok := arg.(*element); ok {
			id, err := el.resolve(ctx)
			if err != nil {
				return nil, err
			}
			if receiver == "" {
				receiver = id
			}
			callArgs = append(callArgs, &runtime.CallArgument{ObjectID: id})
			continue
		}
		if _, ok := arg.(browser.Element); ok {
			return nil, fmt.Errorf("element %T belongs to another engine", arg)
		}
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encoding script argument: %w", err)
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: raw})
	}

	if receiver == "" {
		expr, err := evaluateExpression(fn, args)
		if err != nil {
			return nil, err
		}
		res, exc, err := runtime.Evaluate(expr).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		return decodeResult(res, exc, err)
	}

	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(receiver).
		WithArguments(callArgs).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		Do(ctx)
	return decodeResult(res, exc, err)
}

// evaluateExpression inlines JSON encoded args into a call of fn.
func evaluateExpression(fn string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding script arguments: %w", err)
	}
	return fmt.Sprintf("(%s)(...%s)", fn, raw), nil
}

func decodeResult(res *runtime.RemoteObject, exc *runtime.ExceptionDetails, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return nil, fmt.Errorf("script exception: %s", msg)
	}
	if res == nil || len(res.Value) == 0 {
		// undefined, or a value that cannot be serialized
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Value), nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if s.cfg.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
		defer cancel()
	}
	err := s.runActions(ctx, s.currentHandle(), chromedp.Navigate(url))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigating to %s timed out after %v: %w", url, s.cfg.PageLoadTimeout, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	s.logger.Debug("Navigated.", zap.String("url", url))
	return nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.runActions(ctx, s.currentHandle(), chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return u, nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.runActions(ctx, s.currentHandle(), chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

// WindowHandles lists page targets. Handles are target IDs.
func (s *Session) WindowHandles(ctx context.Context) ([]string, error) {
	var infos []*target.Info
	err := s.runActions(ctx, s.rootHandle, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		infos, err = chromedp.Targets(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("listing targets: %w", err)
	}
	return pageHandles(infos), nil
}

func pageHandles(infos []*target.Info) []string {
	handles := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			handles = append(handles, string(info.TargetID))
		}
	}
	return handles
}

func (s *Session) CurrentWindow(context.Context) (string, error) {
	return s.currentHandle(), nil
}

// SwitchToWindow attaches to the target on first use and brings it to front.
func (s *Session) SwitchToWindow(ctx context.Context, handle string) error {
	s.mu.Lock()
	_, attached := s.tabs[handle]
	s.mu.Unlock()

	if !attached {
		handles, err := s.WindowHandles(ctx)
		if err != nil {
			return err
		}
		if !contains(handles, handle) {
			return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
		}
		s.mu.Lock()
		root := s.tabs[s.rootHandle].ctx
		tabCtx, cancel := chromedp.NewContext(root, chromedp.WithTargetID(target.ID(handle)))
		s.tabs[handle] = tab{ctx: tabCtx, cancel: cancel}
		s.mu.Unlock()
	}

	if err := s.runActions(ctx, handle, target.ActivateTarget(target.ID(handle))); err != nil {
		return fmt.Errorf("activating window %s: %w", handle, classify(err))
	}
	s.mu.Lock()
	s.current = handle
	s.mu.Unlock()
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Close detaches every tab and shuts the browser down. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		root := s.tabs[s.rootHandle]
		for h, t := range s.tabs {
			if h != s.rootHandle {
				t.cancel()
			}
		}
		s.tabs = map[string]tab{}
		s.mu.Unlock()

		if root.ctx != nil {
			done := make(chan error, 1)
			go func() { done <- chromedp.Cancel(root.ctx) }()
			select {
			case s.closeErr = <-done:
			case <-ctx.Done():
				s.closeErr = ctx.Err()
			}
			root.cancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		s.logger.Info("Chrome session closed.")
	})
	if s.closeErr != nil && !errors.Is(s.closeErr, context.Canceled) {
		return fmt.Errorf("closing chrome: %w", s.closeErr)
	}
	return nil
}
