package interact

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/wait"
)

// TextMatch decides whether a single member's text is acceptable.
type TextMatch func(text string) bool

// ContainsFold matches texts containing keyword, ignoring case.
func ContainsFold(keyword string) TextMatch {
	k := strings.ToLower(keyword)
	return func(text string) bool {
		return strings.Contains(strings.ToLower(text), k)
	}
}

// stabilization tracks the member count across the ticks of one wait.
type stabilization struct {
	lastCount  int
	lastChange time.Time
	quiet      time.Duration
}

// observe records count at now and reports whether the count has held for the
// whole quiet window.
func (s *stabilization) observe(count int, now time.Time) bool {
	if count != s.lastCount {
		s.lastCount = count
		s.lastChange = now
		return false
	}
	return now.Sub(s.lastChange) >= s.quiet
}

// WaitForStableCollection waits until the elements matching sel stop changing
// in number for at least quiet and every non-blank member text satisfies match.
// Ticks on which the list is empty or entirely hidden are skipped without
// touching the count. Members whose text cannot be read on a tick are treated
// as blank for that tick. The returned slice is the membership observed on the satisfying tick.
func (i *Interactor) WaitForStableCollection(ctx context.Context, sel browser.Selector, quiet time.Duration, match TextMatch) ([]browser.Element, error) {
	clock := i.waiter.Clock()
	state := &stabilization{lastCount: -1, quiet: quiet}

	return wait.Until(ctx, i.waiter, "stable collection "+sel.String(), func(ctx context.Context) ([]browser.Element, bool, error) {
		els, err := i.driver.FindAll(ctx, sel)
		if err != nil {
			return nil, false, err
		}

		shown, err := anyDisplayed(ctx, els)
		if err != nil {
			return nil, false, err
		}
		// An absent or hidden list is not an observation; it leaves the
		// last count and its timestamp untouched.
		if len(els) == 0 || !shown {
			return els, false, nil
		}
		if !state.observe(len(els), clock.Now()) {
			return els, false, nil
		}

		for _, el := range els {
			text, err := el.Text(ctx)
			if err != nil {
				if !i.waiter.Ignorable(err) {
					return nil, false, err
				}
				i.logger.Debug("Skipping unreadable collection member.", zap.Stringer("selector", sel), zap.Error(err))
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if match != nil && !match(text) {
				return els, false, nil
			}
		}
		return els, true, nil
	})
}

func anyDisplayed(ctx context.Context, els []browser.Element) (bool, error) {
	for _, el := range els {
		shown, err := el.IsDisplayed(ctx)
		if err != nil {
			return false, err
		}
		if shown {
			return true, nil
		}
	}
	return false, nil
}
