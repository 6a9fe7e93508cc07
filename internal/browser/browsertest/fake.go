// Package browsertest provides an in-memory browser for engine independent tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xkilldash9x/flowcheck/internal/browser"
)

// Element is a scripted element. Zero value is a displayed, clickable node.
type Element struct {
	mu sync.Mutex

	Name   string
	Hidden bool
	Stale  bool
	// Covered makes the clickability script report false and native clicks
	// fail with ErrInteractionBlocked.
	Covered bool
	// ClickErr, when set, is returned by every native click. The
	// clickability script cannot see it, as with mid-animation nodes.
	ClickErr error
	// DetachOnClick marks the element stale after a failed native click.
	DetachOnClick bool
	// Within lists the CSS selectors this element is nested inside.
	Within []string

	text     string
	textErrs []error

	// OnClick runs after every successful native or forced click.
	OnClick func()

	Clicks       int
	ForcedClicks int
	Scrolls      int
	Hovers       int
}

// NewElement returns a displayed element with text.
func NewElement(name, text string) *Element {
	return &Element{Name: name, text: text}
}

// SetText replaces the element text.
func (e *Element) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
}

// FailTextReads queues errors returned by the next Text calls.
func (e *Element) FailTextReads(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.textErrs = append(e.textErrs, errs...)
}

// SetStale marks the element as detached.
func (e *Element) SetStale(stale bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Stale = stale
}

// SetCovered toggles the overlay condition.
func (e *Element) SetCovered(covered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Covered = covered
}

func (e *Element) staleErr() error {
	return fmt.Errorf("%w: %s", browser.ErrStaleReference, e.Name)
}

func (e *Element) IsDisplayed(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Stale {
		return false, e.staleErr()
	}
	return !e.Hidden, nil
}

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.textErrs) > 0 {
		err := e.textErrs[0]
		e.textErrs = e.textErrs[1:]
		return "", err
	}
	if e.Stale {
		return "", e.staleErr()
	}
	if e.Hidden {
		return "", nil
	}
	return e.text, nil
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	switch {
	case e.Stale:
		e.mu.Unlock()
		return e.staleErr()
	case e.ClickErr != nil:
		if e.DetachOnClick {
			e.Stale = true
		}
		e.mu.Unlock()
		return e.ClickErr
	case e.Covered || e.Hidden:
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is covered", browser.ErrInteractionBlocked, e.Name)
	}
	e.Clicks++
	cb := e.OnClick
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (e *Element) clickable() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Stale {
		return false, e.staleErr()
	}
	return !e.Hidden && !e.Covered, nil
}

func (e *Element) forceClick() bool {
	e.mu.Lock()
	if e.Stale {
		e.mu.Unlock()
		return false
	}
	e.ForcedClicks++
	cb := e.OnClick
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
	return true
}

func (e *Element) within(css string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, w := range e.Within {
		if w == css {
			return true
		}
	}
	return false
}

// Counts returns (native clicks, forced clicks).
func (e *Element) Counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Clicks, e.ForcedClicks
}

// Driver is an in-memory browser.Driver.
type Driver struct {
	mu sync.Mutex

	elements map[string][]browser.Element
	finders  map[string]func(call int) []browser.Element
	finds    map[string]int

	url        string
	title      string
	readyState string
	windows    []string
	current    string
	scrolls    [][2]int
	navigated  []string
	closed     bool

	// OnNavigate runs after Navigate updates the URL.
	OnNavigate func(url string)
	// OnFind resolves selectors that have no registered elements or finder.
	OnFind func(sel browser.Selector) []*Element
	// OnScript handles scripts the fake does not know.
	OnScript func(fn string, args []any) (any, error)
}

// NewDriver returns a fake with a single window.
func NewDriver() *Driver {
	return &Driver{
		elements:   map[string][]browser.Element{},
		finders:    map[string]func(int) []browser.Element{},
		finds:      map[string]int{},
		readyState: "complete",
		windows:    []string{"main"},
		current:    "main",
		url:        "about:blank",
	}
}

// Set registers the elements returned for sel.
func (d *Driver) Set(sel browser.Selector, els ...*Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := make([]browser.Element, len(els))
	for i, el := range els {
		list[i] = el
	}
	d.elements[sel.String()] = list
	delete(d.finders, sel.String())
}

// SetFinder makes sel resolve through fn, which receives the 1-based call number.
func (d *Driver) SetFinder(sel browser.Selector, fn func(call int) []browser.Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finders[sel.String()] = fn
}

// Finds returns how often sel was queried.
func (d *Driver) Finds(sel browser.Selector) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finds[sel.String()]
}

// SetURL sets the current URL without recording a navigation.
func (d *Driver) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// SetTitle sets the document title.
func (d *Driver) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
}

// SetReadyState sets document.readyState.
func (d *Driver) SetReadyState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyState = state
}

// OpenWindow adds a window handle, as a target=_blank link would.
func (d *Driver) OpenWindow(handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windows = append(d.windows, handle)
}

// Navigations returns every URL passed to Navigate.
func (d *Driver) Navigations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigated...)
}

// Scrolls returns every window scroll offset requested.
func (d *Driver) Scrolls() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]int(nil), d.scrolls...)
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) FindAll(_ context.Context, sel browser.Selector) ([]browser.Element, error) {
	d.mu.Lock()
	key := sel.String()
	d.finds[key]++
	call := d.finds[key]
	finder := d.finders[key]
	els, registered := d.elements[key]
	onFind := d.OnFind
	d.mu.Unlock()

	switch {
	case finder != nil:
		els = finder(call)
	case !registered && onFind != nil:
		for _, el := range onFind(sel) {
			els = append(els, el)
		}
	}
	out := make([]browser.Element, len(els))
	copy(out, els)
	return out, nil
}

func (d *Driver) RunScript(_ context.Context, fn string, args ...any) (json.RawMessage, error) {
	result, err := d.runScript(fn, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (d *Driver) runScript(fn string, args []any) (any, error) {
	el := func() (*Element, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("script expects an element argument")
		}
		e, ok := args[0].(*Element)
		if !ok {
			return nil, fmt.Errorf("unexpected argument %T", args[0])
		}
		return e, nil
	}

	switch fn {
	case browser.ScriptClickable:
		e, err := el()
		if err != nil {
			return nil, err
		}
		return e.clickable()
	case browser.ScriptForceClick:
		e, err := el()
		if err != nil {
			return nil, err
		}
		return e.forceClick(), nil
	case browser.ScriptScrollIntoView, browser.ScriptHover:
		e, err := el()
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.Stale {
			return nil, e.staleErr()
		}
		if fn == browser.ScriptHover {
			e.Hovers++
		} else {
			e.Scrolls++
		}
		return true, nil
	case browser.ScriptWithin:
		e, err := el()
		if err != nil {
			return nil, err
		}
		css, _ := args[1].(string)
		return e.within(css), nil
	case browser.ScriptReadyState:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.readyState, nil
	case browser.ScriptScrollBy:
		x, _ := args[0].(int)
		y, _ := args[1].(int)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.scrolls = append(d.scrolls, [2]int{x, y})
		return true, nil
	}

	if d.OnScript != nil {
		return d.OnScript(fn, args)
	}
	return nil, fmt.Errorf("browsertest: unsupported script %q", fn)
}

func (d *Driver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	d.url = url
	d.navigated = append(d.navigated, url)
	cb := d.OnNavigate
	d.mu.Unlock()
	if cb != nil {
		cb(url)
	}
	return nil
}

func (d *Driver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *Driver) Title(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title, nil
}

func (d *Driver) WindowHandles(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.windows...), nil
}

func (d *Driver) CurrentWindow(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *Driver) SwitchToWindow(_ context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.windows {
		if w == handle {
			d.current = handle
			return nil
		}
	}
	return fmt.Errorf("%w: %s", browser.ErrNoSuchWindow, handle)
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ browser.Driver = (*Driver)(nil)
var _ browser.Element = (*Element)(nil)
