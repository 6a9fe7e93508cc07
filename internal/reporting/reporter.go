// Package reporting renders run results as JSON, JUnit XML and a console
// summary.
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/flowcheck/internal/flow"
)

// Supported report formats.
const (
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Reporter defines the interface for writing run results to an output.
type Reporter interface {
	// Write renders a complete run.
	Write(run *flow.Run) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case FormatJSON:
		return NewJSONReporter(writer), nil
	case FormatJUnit:
		return NewJUnitReporter(writer), nil
	default:
		if !isStdOut {
			writer.Close()
			_ = os.Remove(outputPath)
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// Extension returns the file extension used for format.
func Extension(format string) string {
	if format == FormatJUnit {
		return ".xml"
	}
	return "." + format
}

// WriteAll writes run in every format to dir as <run id><ext> and returns the
// written paths.
func WriteAll(dir string, formats []string, run *flow.Run) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating report dir %s: %w", dir, err)
	}
	var paths []string
	for _, format := range formats {
		path := filepath.Join(dir, run.ID+Extension(format))
		r, err := New(format, path)
		if err != nil {
			return paths, err
		}
		werr := r.Write(run)
		cerr := r.Close()
		if werr != nil {
			return paths, fmt.Errorf("writing %s report: %w", format, werr)
		}
		if cerr != nil {
			return paths, fmt.Errorf("closing %s report: %w", format, cerr)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
