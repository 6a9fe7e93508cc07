package reporting

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/flowcheck/internal/flow"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonDocument is the top level of a JSON report.
type jsonDocument struct {
	flow.Run
	Passed   bool `json:"passed"`
	Failures int  `json:"failures"`
}

// JSONReporter writes runs as indented JSON documents.
type JSONReporter struct {
	writer io.WriteCloser
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

func (r *JSONReporter) Write(run *flow.Run) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDocument{Run: *run, Passed: run.Passed(), Failures: run.Failures()})
}

func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
