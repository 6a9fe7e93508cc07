// Package browser defines the contract every browser engine fulfils. The
// synchronization layer only ever talks to these interfaces.
package browser

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel error kinds shared by all engines. Engines wrap their native
// errors so callers can use errors.Is.
var (
	// ErrStaleReference means the element is no longer attached to the document.
	ErrStaleReference = errors.New("stale element reference")
	// ErrInteractionBlocked means a native click could not reach the element,
	// typically because another element covers it.
	ErrInteractionBlocked = errors.New("element interaction blocked")
	// ErrNoSuchElement means a locator resolved to nothing.
	ErrNoSuchElement = errors.New("no such element")
	// ErrNoSuchWindow means a window handle does not exist.
	ErrNoSuchWindow = errors.New("no such window")
)

// Driver is one live browser session. A session is owned by exactly one flow.
type Driver interface {
	// FindAll returns every element matching sel. Zero matches is an empty
	// slice, not an error.
	FindAll(ctx context.Context, sel Selector) ([]Element, error)
	// RunScript calls the JS function expression fn with args. Element
	// arguments are passed by reference. The result is JSON encoded.
	RunScript(ctx context.Context, fn string, args ...any) (json.RawMessage, error)
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	WindowHandles(ctx context.Context) ([]string, error)
	CurrentWindow(ctx context.Context) (string, error)
	SwitchToWindow(ctx context.Context, handle string) error
	Close(ctx context.Context) error
}

// Element is a handle to a node found by a Driver. Handles can go stale at
// any time; operations then fail with ErrStaleReference.
type Element interface {
	IsDisplayed(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Click(ctx context.Context) error
}

// ScriptBool runs fn and decodes a boolean result. A null result is false.
func ScriptBool(ctx context.Context, d Driver, fn string, args ...any) (bool, error) {
	raw, err := d.RunScript(ctx, fn, args...)
	if err != nil {
		return false, err
	}
	var out *bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return false, err
	}
	return out != nil && *out, nil
}

// ScriptString runs fn and decodes a string result. A null result is "".
func ScriptString(ctx context.Context, d Driver, fn string, args ...any) (string, error) {
	raw, err := d.RunScript(ctx, fn, args...)
	if err != nil {
		return "", err
	}
	var out *string
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return *out, nil
}
