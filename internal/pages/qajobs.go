package pages

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
	"github.com/xkilldash9x/flowcheck/internal/locator"
	"github.com/xkilldash9x/flowcheck/internal/wait"
)

// ErrNoJobs is returned by ViewRole when the listing settled with no cards.
var ErrNoJobs = errors.New("no jobs found after filtering")

// QAJobs is the QA category page and the open positions listing behind it.
type QAJobs struct {
	ix  *interact.Interactor
	cfg config.FlowConfig
}

func NewQAJobs(ix *interact.Interactor, cfg config.FlowConfig) *QAJobs {
	return &QAJobs{ix: ix, cfg: cfg}
}

func (q *QAJobs) heading() browser.Selector {
	return browser.XPath(locator.ContainsText("span", q.cfg.Keyword))
}

// IsOpened waits for the category heading.
func (q *QAJobs) IsOpened(ctx context.Context) bool {
	if _, err := q.ix.WaitVisible(ctx, q.heading()); err != nil {
		q.ix.Logger().Debug("QA heading not visible.", zap.Error(err))
		return false
	}
	return true
}

// SeeAllJobs opens the full listing. The link either navigates or swaps the
// list in place, so either a URL change or a loaded document with cards ends
// the wait. The listing's filter data arrives later without any signal, which
// the trailing settle delay covers.
func (q *QAJobs) SeeAllJobs(ctx context.Context) error {
	before, err := q.ix.Driver().CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("reading url: %w", err)
	}
	if err := q.ix.SafeClick(ctx, seeAllQAJobs); err != nil {
		return fmt.Errorf("see all jobs: %w", err)
	}

	loaded := func(ctx context.Context) (string, bool, error) {
		ready, err := q.ix.DocumentReady(ctx)
		if err != nil || !ready {
			return "", false, err
		}
		cards, err := q.ix.Driver().FindAll(ctx, jobCards)
		if err != nil {
			return "", false, err
		}
		return before, len(cards) > 0, nil
	}
	_, _, err = wait.UntilAny(ctx, q.ix.Waiter(), "job listing after see all", q.ix.URLChanged(before), loaded)
	if err != nil {
		return fmt.Errorf("job listing: %w", err)
	}
	return q.ix.Settle(ctx, q.cfg.ListSettleDelay)
}

// FilterLocation picks cfg.Location in the location dropdown.
func (q *QAJobs) FilterLocation(ctx context.Context) error {
	if err := q.ix.Settle(ctx, q.cfg.FilterPause); err != nil {
		return err
	}
	if err := q.ix.SafeClick(ctx, locationDropdown); err != nil {
		return fmt.Errorf("location dropdown: %w", err)
	}
	if err := q.ix.Settle(ctx, q.cfg.FilterPause); err != nil {
		return err
	}
	if err := q.ix.SafeClick(ctx, locationOption(q.cfg.Location)); err != nil {
		return fmt.Errorf("location %q: %w", q.cfg.Location, err)
	}
	q.ix.ScrollPage(ctx, interact.Vertical, interact.ScrollMedium)
	return nil
}

// JobCards waits for the filtered listing to settle and returns its cards.
// Every card with text must mention the keyword.
func (q *QAJobs) JobCards(ctx context.Context) ([]browser.Element, error) {
	return q.ix.WaitForStableCollection(ctx, jobCards, q.cfg.StableWindow, interact.ContainsFold(q.cfg.Keyword))
}

// HasJobCards reports whether a settled, matching listing is non-empty.
func (q *QAJobs) HasJobCards(ctx context.Context) bool {
	cards, err := q.JobCards(ctx)
	if err != nil {
		q.ix.Logger().Debug("Job listing did not settle.", zap.Error(err))
		return false
	}
	return len(cards) > 0
}

// ViewRole opens the first job's posting, which the site opens in a new tab,
// and switches to it. It returns the new window handle.
func (q *QAJobs) ViewRole(ctx context.Context) (string, error) {
	cards, err := q.JobCards(ctx)
	if err != nil {
		return "", fmt.Errorf("job listing: %w", err)
	}
	if len(cards) == 0 {
		return "", ErrNoJobs
	}

	target, err := q.pickViewRole(ctx)
	if err != nil {
		return "", err
	}
	q.ix.ScrollIntoView(ctx, target)
	if err := q.ix.SafeClick(ctx, target); err != nil {
		return "", fmt.Errorf("view role: %w", err)
	}
	if _, err := q.ix.WaitWindowCount(ctx, 2); err != nil {
		return "", fmt.Errorf("posting tab: %w", err)
	}
	return q.ix.SwitchToNewWindow(ctx)
}

// pickViewRole prefers a displayed link inside a job card, then any link
// inside a card, then the first link on the page.
func (q *QAJobs) pickViewRole(ctx context.Context) (browser.Target, error) {
	links, err := q.ix.Driver().FindAll(ctx, viewRole)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNoSuchElement, viewRole)
	}

	var inCard browser.Element
	for _, link := range links {
		within, err := browser.ScriptBool(ctx, q.ix.Driver(), browser.ScriptWithin, link, JobCardsCSS)
		if err != nil || !within {
			continue
		}
		if shown, err := link.IsDisplayed(ctx); err == nil && shown {
			return browser.Fixed(link, viewRole.String()), nil
		}
		if inCard == nil {
			inCard = link
		}
	}
	if inCard != nil {
		return browser.Fixed(inCard, viewRole.String()), nil
	}
	return browser.Fixed(links[0], viewRole.String()), nil
}
