package pages

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
)

// Application is a job posting on the external applicant tracking host.
type Application struct {
	ix  *interact.Interactor
	cfg config.FlowConfig
}

func NewApplication(ix *interact.Interactor, cfg config.FlowConfig) *Application {
	return &Application{ix: ix, cfg: cfg}
}

// IsOpened checks that the current tab is on the application host and shows
// either the posting headline or its apply button.
func (a *Application) IsOpened(ctx context.Context) bool {
	if _, err := a.ix.WaitURLContains(ctx, a.cfg.ApplicationHost); err != nil {
		a.ix.Logger().Debug("Not on the application host.", zap.String("host", a.cfg.ApplicationHost), zap.Error(err))
		return false
	}
	if _, _, err := a.ix.WaitAnyVisible(ctx, postingHeadline, applyButton); err != nil {
		a.ix.Logger().Debug("Posting content not visible.", zap.Error(err))
		return false
	}
	return true
}
