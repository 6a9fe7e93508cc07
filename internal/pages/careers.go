package pages

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
)

// Careers is the careers landing page.
type Careers struct {
	ix  *interact.Interactor
	cfg config.FlowConfig
}

func NewCareers(ix *interact.Interactor, cfg config.FlowConfig) *Careers {
	return &Careers{ix: ix, cfg: cfg}
}

// IsOpened waits for any of the page's landmark sections. Which sections
// render varies between deployments, so one is enough. After the wait runs
// out each section gets one more short probe.
func (c *Careers) IsOpened(ctx context.Context) bool {
	blocks := []browser.Target{blockLocations, blockTeams, blockLifeAtInsider}
	_, idx, err := c.ix.WaitAnyVisible(ctx, blocks...)
	if err == nil {
		c.ix.Logger().Debug("Careers page ready.", zap.Stringer("block", blocks[idx]))
		return true
	}
	for _, b := range blocks {
		if c.ix.IsVisible(ctx, b) {
			return true
		}
	}
	return false
}

// OpenQACategory navigates straight to the QA category page.
func (c *Careers) OpenQACategory(ctx context.Context) error {
	if err := c.ix.Driver().Navigate(ctx, c.cfg.QACategoryURL); err != nil {
		return err
	}
	if _, err := c.ix.WaitURLContains(ctx, pathOf(c.cfg.QACategoryURL)); err != nil {
		return fmt.Errorf("qa category: %w", err)
	}
	return nil
}

// pathOf returns the URL path without a trailing slash, so both
// ".../quality-assurance" and ".../quality-assurance/" match.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return strings.TrimSuffix(u.Path, "/")
}
