// Package pages models the career site as page objects built on the
// resilient interaction layer. Each page exposes readiness checks that never
// fail, only report, and actions that return an error when they cannot
// complete.
package pages

import (
	"github.com/xkilldash9x/flowcheck/internal/browser"
	"github.com/xkilldash9x/flowcheck/internal/locator"
)

// Failure messages reported for each readiness check.
const (
	MsgHomeNotOpened        = "The home page could not opened!"
	MsgCareersNotOpened     = "The career page could not opened!"
	MsgJobsNotOpened        = "Job page not opened!"
	MsgApplicationNotOpened = "The application form page could not opened!"
	MsgNoQAJobs             = "No QA jobs found!"
)

const acceptCookiesText = "Accept All"

var (
	// Shared by every page of the site.
	cookieAccept = browser.XPath(locator.ContainsText("a", acceptCookiesText))

	navCompany  = browser.XPath("//a[@id='navbarDropdownMenuLink' and normalize-space()='Company']")
	menuCareers = browser.XPath("//a[not(@aria-hidden='true') and contains(@href, '/careers')]")

	blockLocations     = browser.CSS("#career-our-location")
	blockTeams         = browser.CSS("#career-find-our-calling")
	blockLifeAtInsider = browser.XPath("//section[contains(@class,'elementor-section')][.//h2[text()='Life at Insider']]")

	seeAllQAJobs     = browser.XPath("//a[contains(.,'See all QA jobs')]")
	locationDropdown = browser.CSS("#select2-filter-by-location-container")

	// JobCardsCSS matches a job card in every layout the listing has used.
	JobCardsCSS = "[data-team-item], .position-list-item, .job-card, [data-position]"
	jobCards    = browser.CSS(JobCardsCSS)
	viewRole    = browser.XPath(locator.NormalizedEquals("a", "View Role"))

	postingHeadline = browser.CSS(".posting-headline")
	applyButton     = browser.CSS("a.postings-btn")
)

func locationOption(city string) browser.Selector {
	return browser.XPath(locator.IDPrefixWithText("li", "select2-filter-by-location-result-", city))
}
