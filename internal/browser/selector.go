package browser

import (
	"context"
	"fmt"
)

// Strategy identifies a selector language.
type Strategy string

const (
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
)

// Selector locates elements.
type Selector struct {
	By    Strategy
	Value string
}

// CSS builds a CSS selector.
func CSS(value string) Selector { return Selector{By: ByCSS, Value: value} }

// XPath builds an XPath selector.
func XPath(value string) Selector { return Selector{By: ByXPath, Value: value} }

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.By, s.Value)
}

// Target is something that resolves to a single element on demand. Resolving
// again after a re-render yields a fresh handle.
type Target interface {
	Resolve(ctx context.Context, d Driver) (Element, error)
	String() string
}

// Resolve returns the first element matching s, or ErrNoSuchElement.
func (s Selector) Resolve(ctx context.Context, d Driver) (Element, error) {
	els, err := d.FindAll(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchElement, s)
	}
	return els[0], nil
}

type fixed struct {
	el   Element
	name string
}

// Fixed wraps an already resolved element. It always resolves to the same
// handle, which may be stale.
func Fixed(el Element, name string) Target {
	return fixed{el: el, name: name}
}

func (f fixed) Resolve(context.Context, Driver) (Element, error) { return f.el, nil }
func (f fixed) String() string                                   { return f.name }
