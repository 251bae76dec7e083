package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/webmirror/webmirror/internal/model"
)

// timeRounding trims sub-millisecond noise from displayed durations.
const timeRounding = time.Millisecond

// SimpleWriter outputs summaries as human-readable text for terminals.
type SimpleWriter struct {
	baseWriter

	// verbose lists every resource instead of only the failed ones.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose lists every mirrored resource, not just failures.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary as text.
func (w *SimpleWriter) Write(sum *model.Summary) (int, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Mirror of %s\n", sum.RootURL)
	fmt.Fprintf(&sb, "Output:   %s\n", sum.OutputDir)
	fmt.Fprintf(&sb, "Status:   %s\n", sum.State)
	fmt.Fprintf(&sb, "Duration: %s\n", sum.Duration().Round(timeRounding))
	fmt.Fprintf(&sb, "Saved:    %d  Failed: %d  Skipped: %d\n",
		sum.Done, sum.Failed, sum.Skipped)

	if w.verbose {
		sb.WriteString("\nResources:\n")
		for _, r := range sum.Resources {
			fmt.Fprintf(&sb, "  [%s] %s -> %s\n", r.State, r.URL, r.LocalPath)
		}
	} else if sum.Failed > 0 {
		sb.WriteString("\nFailures:\n")
		for _, r := range sum.Resources {
			if r.State != model.StateFailed {
				continue
			}
			fmt.Fprintf(&sb, "  %s: %s\n", r.URL, r.Error)
		}
	}

	return io.WriteString(w.output, sb.String())
}
