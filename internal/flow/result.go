package flow

import "time"

// Status is the outcome of a single step.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// StepResult records one step of a browser's flow.
type StepResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	// Message is the step's assertion message, set when the step fails.
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of the flow in one browser.
type Result struct {
	Browser  string        `json:"browser"`
	Engine   string        `json:"engine"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	// Error is set when the session could not be opened.
	Error string       `json:"error,omitempty"`
	Steps []StepResult `json:"steps"`
}

// Passed reports whether the session opened and every step passed.
func (r Result) Passed() bool {
	if r.Error != "" {
		return false
	}
	for _, s := range r.Steps {
		if s.Status != StatusPassed {
			return false
		}
	}
	return true
}

// FailedStep returns the first failed step, if any.
func (r Result) FailedStep() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// Run groups the per-browser results of one invocation.
type Run struct {
	ID       string    `json:"id"`
	Revision string    `json:"revision,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Results  []Result  `json:"results"`
}

// Passed reports whether every browser passed.
func (r *Run) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}
	return len(r.Results) > 0
}

// Failures counts browsers that did not pass.
func (r *Run) Failures() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}
