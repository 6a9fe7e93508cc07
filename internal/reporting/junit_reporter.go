package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/flowcheck/internal/flow"
)

// ToolName names the suite root in JUnit reports.
const ToolName = "flowcheck"

// JUnitReporter writes runs in the JUnit XML dialect CI servers consume. Each
// browser is a testsuite and each step a testcase.
type JUnitReporter struct {
	writer io.WriteCloser
}

// NewJUnitReporter takes ownership of writer.
func NewJUnitReporter(writer io.WriteCloser) *JUnitReporter {
	return &JUnitReporter{writer: writer}
}

func (r *JUnitReporter) Write(run *flow.Run) error {
	doc := BuildJUnit(run)
	doc.Indent(2)
	if _, err := doc.WriteTo(r.writer); err != nil {
		return fmt.Errorf("encoding junit report: %w", err)
	}
	return nil
}

func (r *JUnitReporter) Close() error {
	return r.writer.Close()
}

// BuildJUnit renders run as a JUnit document.
func BuildJUnit(run *flow.Run) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("testsuites")
	root.CreateAttr("name", ToolName)
	root.CreateAttr("time", seconds(run.Finished.Sub(run.Started)))

	var tests, failures, skipped int
	for _, res := range run.Results {
		t, f, s := addSuite(root, run, res)
		tests += t
		failures += f
		skipped += s
	}
	root.CreateAttr("tests", fmt.Sprint(tests))
	root.CreateAttr("failures", fmt.Sprint(failures))
	root.CreateAttr("skipped", fmt.Sprint(skipped))
	return doc
}

func addSuite(root *etree.Element, run *flow.Run, res flow.Result) (tests, failures, skipped int) {
	suite := root.CreateElement("testsuite")
	suite.CreateAttr("name", res.Browser)
	suite.CreateAttr("timestamp", res.Started.UTC().Format(time.RFC3339))
	suite.CreateAttr("time", seconds(res.Duration))

	props := suite.CreateElement("properties")
	for _, kv := range [][2]string{{"run_id", run.ID}, {"engine", res.Engine}, {"revision", run.Revision}} {
		if kv[1] == "" {
			continue
		}
		p := props.CreateElement("property")
		p.CreateAttr("name", kv[0])
		p.CreateAttr("value", kv[1])
	}

	classname := ToolName + "." + res.Browser
	errs := 0
	if res.Error != "" {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", "session")
		tc.CreateAttr("classname", classname)
		e := tc.CreateElement("error")
		e.CreateAttr("message", "browser session could not be opened")
		e.SetText(res.Error)
		tests++
		errs++
	}

	for _, step := range res.Steps {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("name", step.Name)
		tc.CreateAttr("classname", classname)
		tc.CreateAttr("time", seconds(step.Duration))
		tests++

		switch step.Status {
		case flow.StatusFailed:
			failures++
			f := tc.CreateElement("failure")
			f.CreateAttr("message", step.Message)
			if step.Error != "" {
				f.CreateAttr("type", "error")
				f.SetText(step.Error)
			} else {
				f.CreateAttr("type", "assertion")
			}
		case flow.StatusSkipped:
			skipped++
			tc.CreateElement("skipped")
		}
	}

	suite.CreateAttr("tests", fmt.Sprint(tests))
	suite.CreateAttr("failures", fmt.Sprint(failures))
	suite.CreateAttr("errors", fmt.Sprint(errs))
	suite.CreateAttr("skipped", fmt.Sprint(skipped))
	return tests, failures + errs, skipped
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
