package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/flowcheck/internal/browser"
)

const scriptText = `(el) => el.innerText`

// element is a node found in one tab. The backend node id survives DOM
// agent resets; a removed node fails to resolve and reads as stale.
type element struct {
	s      *Session
	handle string
	node   *cdp.Node
}

var _ browser.Element = (*element)(nil)

func (e *element) String() string {
	return fmt.Sprintf("<%s backend=%d>", strings.ToLower(e.node.NodeName), e.node.BackendNodeID)
}

// resolve returns a remote object for the node. It must run inside an action.
func (e *element) resolve(ctx context.Context) (runtime.RemoteObjectID, error) {
	obj, err := dom.ResolveNode().WithBackendNodeID(e.node.BackendNodeID).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", browser.ErrStaleReference, err)
	}
	return obj.ObjectID, nil
}

type connectedResult struct {
	Stale bool            `json:"stale"`
	Value json.RawMessage `json:"value"`
}

// call runs fn with the element as its only argument, reporting a detached
// node as ErrStaleReference.
func (e *element) call(ctx context.Context, fn string) (json.RawMessage, error) {
	decl := `function() { if (!this.isConnected) return {stale: true}; return {value: (` + fn + `)(this)}; }`
	var out connectedResult
	err := e.s.runActions(ctx, e.handle, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := e.resolve(ctx)
		if err != nil {
			return err
		}
		raw, err := decodeResult(runtime.CallFunctionOn(decl).
			WithObjectID(id).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &out)
	}))
	if err != nil {
		return nil, classify(err)
	}
	if out.Stale {
		return nil, fmt.Errorf("%w: %s", browser.ErrStaleReference, e)
	}
	if len(out.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Value, nil
}

func (e *element) callBool(ctx context.Context, fn string) (bool, error) {
	raw, err := e.call(ctx, fn)
	if err != nil {
		return false, err
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b, nil
}

func (e *element) IsDisplayed(ctx context.Context) (bool, error) {
	return e.callBool(ctx, browser.ScriptDisplayed)
}

func (e *element) Text(ctx context.Context) (string, error) {
	raw, err := e.call(ctx, scriptText)
	if err != nil {
		return "", err
	}
	var text string
	_ = json.Unmarshal(raw, &text)
	return text, nil
}

// Click hit-tests the node's centre and then dispatches real mouse events.
// Chrome delivers mouse events to whatever is on top, so an overlaid node is
// reported as blocked instead of silently clicking the overlay.
func (e *element) Click(ctx context.Context) error {
	ok, err := e.callBool(ctx, browser.ScriptClickable)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not the topmost node at its centre", browser.ErrInteractionBlocked, e)
	}
	if err := e.s.runActions(ctx, e.handle, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("clicking %s: %w", e, classify(err))
	}
	return nil
}

// classify maps protocol errors onto the shared sentinel kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, browser.ErrStaleReference) || errors.Is(err, browser.ErrInteractionBlocked) || errors.Is(err, browser.ErrNoSuchWindow) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No node with given id"),
		strings.Contains(msg, "Could not find node"),
		strings.Contains(msg, "Node is detached"),
		strings.Contains(msg, "Cannot find context with specified id"):
		return fmt.Errorf("%w: %v", browser.ErrStaleReference, err)
	case strings.Contains(msg, "Could not compute box model"),
		strings.Contains(msg, "Could not compute content quads"),
		strings.Contains(msg, "Node does not have a layout object"):
		return fmt.Errorf("%w: %v", browser.ErrInteractionBlocked, err)
	}
	return err
}
