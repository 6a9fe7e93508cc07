package interact

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/wait"
)

// SafeClick clicks target once it is clickable. The target is re-resolved on
// every poll, so re-rendered nodes are picked up. A failed native click falls
// back to exactly one forced (scripted) click; if that fails its error is
// returned. When the clickability wait times out the forced click is still
// attempted against the last resolution of the target.
func (i *Interactor) SafeClick(ctx context.Context, target browser.Target) error {
	el, err := wait.Until(ctx, i.waiter, "clickability of "+target.String(), i.clickable(target))
	if err != nil {
		if !wait.IsTimeout(err) {
			return fmt.Errorf("waiting to click %s: %w", target, err)
		}
		last, rerr := target.Resolve(ctx, i.driver)
		if rerr != nil {
			return fmt.Errorf("click %s: %w", target, err)
		}
		i.logger.Warn("Element never became clickable, forcing click.", zap.Stringer("target", target), zap.Error(err))
		return i.forcedFallback(ctx, target, last, err)
	}

	nativeErr := el.Click(ctx)
	if nativeErr == nil {
		return nil
	}
	i.logger.Debug("Native click failed, forcing click.", zap.Stringer("target", target), zap.Error(nativeErr))
	return i.forcedFallback(ctx, target, el, nativeErr)
}

func (i *Interactor) forcedFallback(ctx context.Context, target browser.Target, el browser.Element, cause error) error {
	if i.observer != nil {
		i.observer.ObserveForcedClick()
	}
	if err := i.ForceClick(ctx, el); err != nil {
		return fmt.Errorf("forced click on %s after %v: %w", target, cause, err)
	}
	return nil
}

// ForceClick dispatches a scripted click on el. The element must still be
// attached to the document.
func (i *Interactor) ForceClick(ctx context.Context, el browser.Element) error {
	ok, err := browser.ScriptBool(ctx, i.driver, browser.ScriptForceClick, el)
	if err != nil {
		return err
	}
	if !ok {
		return browser.ErrStaleReference
	}
	return nil
}

func (i *Interactor) clickable(target browser.Target) wait.Predicate[browser.Element] {
	return func(ctx context.Context) (browser.Element, bool, error) {
		el, err := target.Resolve(ctx, i.driver)
		if err != nil {
			return nil, false, err
		}
		shown, err := el.IsDisplayed(ctx)
		if err != nil || !shown {
			return el, false, err
		}
		free, err := browser.ScriptBool(ctx, i.driver, browser.ScriptClickable, el)
		if err != nil {
			return el, false, err
		}
		return el, free, nil
	}
}
