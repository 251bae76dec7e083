package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"

	"github.com/webmirror/webmirror/internal/model"
)

// MarkdownWriter outputs summaries in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
//  1. Type-safe markdown generation
//  2. Support for tables, lists, and code blocks
//  3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(sum *model.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, sum)
	w.writeOutcome(md, sum)
	w.writeFailures(md, sum)
	w.writeResources(md, sum)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, sum *model.Summary) {
	md.H1("Mirror Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Root URL", "`" + sum.RootURL + "`"},
			{"Output Directory", "`" + sum.OutputDir + "`"},
			{"Started", sum.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", sum.Duration().Round(timeRounding).String()},
			{"Status", w.statusText(sum)},
		},
	})
	md.PlainText("")
}

// statusText returns the status text based on the run state.
func (w *MarkdownWriter) statusText(sum *model.Summary) string {
	if sum.State == model.RunAborted {
		return "⚠️ Aborted (partial mirror)"
	}
	return "✅ Completed"
}

// writeOutcome writes the resource outcome counts.
func (w *MarkdownWriter) writeOutcome(md *markdown.Markdown, sum *model.Summary) {
	md.H2("Outcome")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows: [][]string{
			{"Saved", strconv.Itoa(sum.Done)},
			{"Failed", strconv.Itoa(sum.Failed)},
			{"Skipped (out of scope, depth, or budget)", strconv.Itoa(sum.Skipped)},
			{"**Total admitted**", "**" + strconv.Itoa(sum.Total()) + "**"},
		},
	})
	md.PlainText("")

	switch {
	case sum.State == model.RunAborted:
		md.Warningf("The run was aborted; %d resources were saved before cancellation.", sum.Done)
	case sum.Failed > 0:
		md.Importantf("%d resource(s) failed to mirror; their links point at the live site.", sum.Failed)
	default:
		md.Tip("Every admitted resource was mirrored successfully.")
	}
	md.PlainText("")
}

// writeFailures lists failed resources with their reasons.
func (w *MarkdownWriter) writeFailures(md *markdown.Markdown, sum *model.Summary) {
	if sum.Failed == 0 {
		return
	}

	md.H2("Failures")
	md.PlainText("")

	rows := make([][]string, 0, sum.Failed)
	for _, r := range sum.Resources {
		if r.State != model.StateFailed {
			continue
		}
		rows = append(rows, []string{"`" + r.URL + "`", r.Error})
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeResources lists the mirrored files.
func (w *MarkdownWriter) writeResources(md *markdown.Markdown, sum *model.Summary) {
	md.H2("Mirrored Files")
	md.PlainText("")

	if sum.Done == 0 {
		md.PlainText("No resources were mirrored.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, sum.Done)
	for _, r := range sum.Resources {
		if r.State != model.StateDone {
			continue
		}
		rows = append(rows, []string{"`" + r.LocalPath + "`", r.Kind.String(), "`" + r.URL + "`"})
	}
	md.Table(markdown.TableSet{
		Header: []string{"File", "Kind", "Source URL"},
		Rows:   rows,
	})
	md.PlainText("")
}
