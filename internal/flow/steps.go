package flow

import (
	"context"

	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/interact"
	"github.com/xkilldash9x/flowcheck/internal/pages"
)

// Step names, in execution order.
const (
	StepHome        = "home"
	StepCareers     = "careers"
	StepQACategory  = "qa_category"
	StepJobListing  = "job_listing"
	StepApplication = "application"
)

// step performs its actions and then its readiness assertion. An error means
// an action failed; false means the assertion did.
type step struct {
	name    string
	message string
	run     func(ctx context.Context) (bool, error)
}

// steps builds the career flow: home, careers, the QA category, the filtered
// job listing and finally the posting on the application host.
func steps(ix *interact.Interactor, cfg config.FlowConfig) []step {
	home := pages.NewHome(ix, cfg)
	careers := pages.NewCareers(ix, cfg)
	jobs := pages.NewQAJobs(ix, cfg)
	application := pages.NewApplication(ix, cfg)

	return []step{
		{
			name:    StepHome,
			message: pages.MsgHomeNotOpened,
			run: func(ctx context.Context) (bool, error) {
				if err := home.Open(ctx); err != nil {
					return false, err
				}
				return home.IsOpened(ctx), nil
			},
		},
		{
			name:    StepCareers,
			message: pages.MsgCareersNotOpened,
			run: func(ctx context.Context) (bool, error) {
				if err := home.OpenCareersFromCompanyMenu(ctx); err != nil {
					return false, err
				}
				return careers.IsOpened(ctx), nil
			},
		},
		{
			name:    StepQACategory,
			message: pages.MsgJobsNotOpened,
			run: func(ctx context.Context) (bool, error) {
				if err := careers.OpenQACategory(ctx); err != nil {
					return false, err
				}
				return jobs.IsOpened(ctx), nil
			},
		},
		{
			name:    StepJobListing,
			message: pages.MsgNoQAJobs,
			run: func(ctx context.Context) (bool, error) {
				if err := jobs.SeeAllJobs(ctx); err != nil {
					return false, err
				}
				if err := jobs.FilterLocation(ctx); err != nil {
					return false, err
				}
				return jobs.HasJobCards(ctx), nil
			},
		},
		{
			name:    StepApplication,
			message: pages.MsgApplicationNotOpened,
			run: func(ctx context.Context) (bool, error) {
				if _, err := jobs.ViewRole(ctx); err != nil {
					return false, err
				}
				return application.IsOpened(ctx), nil
			},
		},
	}
}
