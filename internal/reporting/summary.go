package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/xkilldash9x/flowcheck/internal/flow"
)

var (
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	skipColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgWhite)
)

var statusColors = map[flow.Status]*color.Color{
	flow.StatusPassed:  passColor,
	flow.StatusFailed:  failColor,
	flow.StatusSkipped: skipColor,
}

// PrintSummary writes a human readable overview of run to w. Colors follow
// color.NoColor, which is set automatically when w is not a terminal.
func PrintSummary(w io.Writer, run *flow.Run) {
	fmt.Fprintf(w, "Run %s", run.ID)
	if run.Revision != "" {
		fmt.Fprintf(w, " @ %s", run.Revision)
	}
	fmt.Fprintln(w)

	for _, res := range run.Results {
		verdict := passColor.Sprint("PASS")
		if !res.Passed() {
			verdict = failColor.Sprint("FAIL")
		}
		fmt.Fprintf(w, "%s %s (%s) %s\n", verdict, res.Browser, res.Engine, dimColor.Sprint(res.Duration.Round(time.Millisecond)))
		if res.Error != "" {
			fmt.Fprintf(w, "    %s\n", failColor.Sprint(res.Error))
		}
		for _, step := range res.Steps {
			c := statusColors[step.Status]
			fmt.Fprintf(w, "  %-8s %-12s %s\n", c.Sprint(step.Status), step.Name, dimColor.Sprint(step.Duration.Round(time.Millisecond)))
			if step.Status == flow.StatusFailed {
				fmt.Fprintf(w, "    %s\n", step.Message)
				if step.Error != "" {
					fmt.Fprintf(w, "    %s\n", step.Error)
				}
			}
		}
	}

	total := len(run.Results)
	if run.Passed() {
		passColor.Fprintf(w, "%d/%d browsers passed\n", total, total)
		return
	}
	failColor.Fprintf(w, "%d/%d browsers failed\n", run.Failures(), total)
}
