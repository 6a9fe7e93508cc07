package pages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
)

// Home is the marketing site's landing page.
type Home struct {
	ix  *interact.Interactor
	cfg config.FlowConfig
}

func NewHome(ix *interact.Interactor, cfg config.FlowConfig) *Home {
	return &Home{ix: ix, cfg: cfg}
}

// Open loads the home page and dismisses the cookie banner if one shows up.
func (h *Home) Open(ctx context.Context) error {
	if err := h.ix.Driver().Navigate(ctx, h.cfg.BaseURL); err != nil {
		return err
	}
	if h.ix.DismissOptional(ctx, cookieAccept) {
		h.ix.Logger().Debug("Accepted cookies.")
	}
	return nil
}

// IsOpened reports whether the document title names the site.
func (h *Home) IsOpened(ctx context.Context) bool {
	title, err := h.ix.Driver().Title(ctx)
	if err != nil {
		h.ix.Logger().Debug("Reading title failed.", zap.Error(err))
		return false
	}
	return strings.Contains(title, h.cfg.SiteName)
}

// OpenCareersFromCompanyMenu opens the Company dropdown and follows its
// Careers entry. The menu opens on hover, so each click is preceded by one.
func (h *Home) OpenCareersFromCompanyMenu(ctx context.Context) error {
	if _, err := h.ix.WaitVisible(ctx, navCompany); err != nil {
		return fmt.Errorf("company menu: %w", err)
	}
	h.ix.ScrollIntoView(ctx, navCompany)
	h.ix.Hover(ctx, navCompany, h.cfg.HoverPause)
	if err := h.ix.SafeClick(ctx, navCompany); err != nil {
		return fmt.Errorf("company menu: %w", err)
	}

	if _, err := h.ix.WaitVisible(ctx, menuCareers); err != nil {
		return fmt.Errorf("careers menu entry: %w", err)
	}
	h.ix.Hover(ctx, menuCareers, h.cfg.SubmenuPause)
	if err := h.ix.SafeClick(ctx, menuCareers); err != nil {
		return fmt.Errorf("careers menu entry: %w", err)
	}

	if _, err := h.ix.WaitURLContains(ctx, "/careers"); err != nil {
		return fmt.Errorf("careers navigation: %w", err)
	}
	return nil
}
