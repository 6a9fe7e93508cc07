package flow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/browser/browsertest"
	"github.com/xkilldash9x/flowcheck/internal/config"
	"github.com/xkilldash9x/flowcheck/internal/flow"
	"github.com/xkilldash9x/flowcheck/internal/observability"
	"github.com/xkilldash9x/flowcheck/internal/pages"
	"github.com/xkilldash9x/flowcheck/internal/wait/waittest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// site simulates the career site on a fake driver. Selectors are matched by
// a distinctive fragment so the test does not depend on their exact form.
type site struct {
	driver *browsertest.Driver
	routes []route
	// hideCareerBlocks keeps the careers page from ever rendering.
	hideCareerBlocks bool
}

type route struct {
	fragment string
	els      []*browsertest.Element
}

func newSite(cfg config.FlowConfig) *site {
	d := browsertest.NewDriver()
	s := &site{driver: d}

	el := browsertest.NewElement
	company := el("company", "Company")
	careersLink := el("careers-link", "Careers")
	careersLink.OnClick = func() { d.SetURL("https://useinsider.com/careers/") }
	seeAll := el("see-all", "See all QA jobs")
	seeAll.OnClick = func() {
		d.SetURL("https://useinsider.com/careers/open-positions/?department=qualityassurance")
	}
	cards := []*browsertest.Element{
		el("card-0", "Senior Software Quality Assurance Engineer\nIstanbul, Turkiye"),
		el("card-1", "Quality Assurance Engineer\nIstanbul, Turkiye"),
	}
	viewRole := el("view-role", "View Role")
	viewRole.Within = []string{pages.JobCardsCSS}
	viewRole.OnClick = func() {
		d.OpenWindow("posting")
		d.SetURL("https://jobs.lever.co/useinsider/0a1b2c")
	}

	s.routes = []route{
		{"Accept All", []*browsertest.Element{el("accept", "Accept All")}},
		{"navbarDropdownMenuLink", []*browsertest.Element{company}},
		{"/careers')", []*browsertest.Element{careersLink}},
		{"#career-our-location", []*browsertest.Element{el("locations", "Our Locations")}},
		{"span", []*browsertest.Element{el("heading", cfg.Keyword)}},
		{"See all QA jobs", []*browsertest.Element{seeAll}},
		{"select2-filter-by-location-container", []*browsertest.Element{el("dropdown", "All")}},
		{"select2-filter-by-location-result-", []*browsertest.Element{el("option", cfg.Location)}},
		{pages.JobCardsCSS, cards},
		{"View Role", []*browsertest.Element{viewRole}},
		{".posting-headline", []*browsertest.Element{el("headline", "Quality Assurance Engineer")}},
	}

	d.OnFind = func(sel browser.Selector) []*browsertest.Element {
		for _, r := range s.routes {
			if !strings.Contains(sel.Value, r.fragment) {
				continue
			}
			if r.fragment == "#career-our-location" && s.hideCareerBlocks {
				return nil
			}
			return r.els
		}
		return nil
	}
	d.OnNavigate = func(u string) {
		if u == cfg.BaseURL {
			d.SetTitle("#1 AI-native Platform | Insider")
		}
	}
	return s
}

type harness struct {
	cfg     *config.Config
	clock   *waittest.Clock
	metrics *observability.Metrics

	mu    sync.Mutex
	sites map[string]*site
}

func newHarness() *harness {
	return &harness{
		cfg:     config.NewDefaultConfig(),
		clock:   waittest.NewClock(epoch),
		metrics: observability.NewMetrics(),
		sites:   map[string]*site{},
	}
}

func (h *harness) open(_ context.Context, cfg config.BrowserConfig, _ *zap.Logger) (browser.Driver, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sites[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("no site for %s", cfg.Kind)
	}
	return s.driver, nil
}

func (h *harness) add(kind string) *site {
	s := newSite(h.cfg.Flow())
	h.mu.Lock()
	h.sites[kind] = s
	h.mu.Unlock()
	return s
}

func (h *harness) runner(t *testing.T) *flow.Runner {
	return flow.NewRunner(h.cfg, zaptest.NewLogger(t),
		flow.WithOpener(h.open),
		flow.WithClock(h.clock),
		flow.WithMetrics(h.metrics))
}

func stepNames(res flow.Result) []string {
	var names []string
	for _, s := range res.Steps {
		names = append(names, s.Name)
	}
	return names
}

var allSteps = []string{flow.StepHome, flow.StepCareers, flow.StepQACategory, flow.StepJobListing, flow.StepApplication}

func TestRunBrowser(t *testing.T) {
	ctx := context.Background()

	t.Run("walks the whole flow", func(t *testing.T) {
		h := newHarness()
		s := h.add(config.BrowserChrome)

		res := h.runner(t).RunBrowser(ctx, config.BrowserChrome)

		require.True(t, res.Passed(), "%+v", res)
		assert.Equal(t, allSteps, stepNames(res))
		assert.Equal(t, "chromedp", res.Engine)
		assert.True(t, s.driver.Closed())

		current, err := s.driver.CurrentWindow(ctx)
		require.NoError(t, err)
		assert.Equal(t, "posting", current)
		assert.Equal(t, []string{h.cfg.Flow().BaseURL, h.cfg.Flow().QACategoryURL}, s.driver.Navigations())

		n, err := testutil.GatherAndCount(h.metrics.Registry(), "flowcheck_flow_step_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, len(allSteps), n)
	})

	t.Run("stops at the first failing step", func(t *testing.T) {
		h := newHarness()
		s := h.add(config.BrowserFirefox)
		s.hideCareerBlocks = true

		res := h.runner(t).RunBrowser(ctx, config.BrowserFirefox)

		assert.False(t, res.Passed())
		assert.Equal(t, allSteps, stepNames(res))
		failed, ok := res.FailedStep()
		require.True(t, ok)
		assert.Equal(t, flow.StepCareers, failed.Name)
		assert.Equal(t, pages.MsgCareersNotOpened, failed.Message)
		assert.Empty(t, failed.Error)
		for _, sr := range res.Steps[2:] {
			assert.Equal(t, flow.StatusSkipped, sr.Status, sr.Name)
		}
		assert.True(t, s.driver.Closed())
	})

	t.Run("action errors carry the cause", func(t *testing.T) {
		h := newHarness()
		s := h.add(config.BrowserChrome)
		s.routes[1].els = nil // no Company menu

		res := h.runner(t).RunBrowser(ctx, config.BrowserChrome)

		failed, ok := res.FailedStep()
		require.True(t, ok)
		assert.Equal(t, flow.StepCareers, failed.Name)
		assert.Equal(t, pages.MsgCareersNotOpened, failed.Message)
		assert.Contains(t, failed.Error, "company menu")
	})

	t.Run("session failures skip every step", func(t *testing.T) {
		h := newHarness()
		res := h.runner(t).RunBrowser(ctx, config.BrowserChrome)

		assert.False(t, res.Passed())
		assert.Contains(t, res.Error, "no site for chrome")
		assert.Equal(t, allSteps, stepNames(res))
		for _, sr := range res.Steps {
			assert.Equal(t, flow.StatusSkipped, sr.Status)
		}
	})

	t.Run("cancelled context skips remaining steps", func(t *testing.T) {
		h := newHarness()
		h.add(config.BrowserChrome)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		res := h.runner(t).RunBrowser(cctx, config.BrowserChrome)
		for _, sr := range res.Steps {
			assert.Equal(t, flow.StatusSkipped, sr.Status)
		}
	})
}

func TestRun(t *testing.T) {
	h := newHarness()
	chrome := h.add(config.BrowserChrome)
	firefox := h.add(config.BrowserFirefox)
	firefox.hideCareerBlocks = true

	run := h.runner(t).Run(context.Background(), []string{config.BrowserChrome, config.BrowserFirefox})

	require.Len(t, run.Results, 2)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, config.BrowserChrome, run.Results[0].Browser)
	assert.Equal(t, config.BrowserFirefox, run.Results[1].Browser)
	assert.True(t, run.Results[0].Passed())
	assert.False(t, run.Results[1].Passed())
	assert.False(t, run.Passed())
	assert.Equal(t, 1, run.Failures())
	assert.False(t, run.Finished.Before(run.Started))
	assert.True(t, chrome.driver.Closed())
	assert.True(t, firefox.driver.Closed())
}

func TestResultPassed(t *testing.T) {
	assert.False(t, (&flow.Run{}).Passed(), "an empty run never passes")
	assert.False(t, flow.Result{Error: errors.New("boom").Error()}.Passed())
	assert.True(t, flow.Result{Steps: []flow.StepResult{{Status: flow.StatusPassed}}}.Passed())
}
