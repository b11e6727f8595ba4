// Package report implements ReportWriter: a single call combining a
// research brief and compressed notes into a Markdown report, with a
// partial-report fallback document on failure.
//
// Token-limit truncate-and-retry happens inside ModelAdapter.InvokeText
// itself (spec.md §4.1/§7: "recovered locally in ModelAdapter ...
// surfaced only when truncation fails"), so by the time Write sees an
// error, recovery has already been attempted; any error here is a
// continued failure and produces the partial-report document.
//
// Grounded on the other_examples go-research think_deep FinalReportPrompt
// flow (brief + findings interpolated into one final-synthesis prompt)
// and on original_source/utils.py's citation-renumbering pass, which
// this package adds as RenumberCitations.
package report

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jordangeorgiev/open-deep-research/internal/transcript"
)

// ModelAdapter is the subset of modeladapter.Adapter ReportWriter calls
// through, declared locally to avoid an import-cycle-prone dependency on
// the concrete adapter type.
type ModelAdapter interface {
	InvokeText(ctx context.Context, model string, messages []transcript.Message) (string, error)
}

// Writer produces the final Markdown report.
type Writer struct {
	adapter ModelAdapter
	model   string
}

// New builds a Writer that invokes model through adapter.
func New(adapter ModelAdapter, model string) *Writer {
	return &Writer{adapter: adapter, model: model}
}

// Write combines brief and notes into a Markdown report. On any error
// (including a token-limit error ModelAdapter could not itself recover
// from) it returns the partial-report error document instead of
// propagating the error, per spec.md §4.7.
func (w *Writer) Write(ctx context.Context, brief string, notes []string) string {
	messages := buildMessages(brief, notes)

	report, err := w.adapter.InvokeText(ctx, w.model, messages)
	if err != nil {
		return partialReport(brief, notes, err)
	}
	return RenumberCitations(report)
}

func buildMessages(brief string, notes []string) []transcript.Message {
	var b strings.Builder
	b.WriteString("Write a comprehensive Markdown research report answering the brief below, citing sources inline as [n] markers keyed to the notes that support each claim.\n\n")
	fmt.Fprintf(&b, "<brief>\n%s\n</brief>\n\n", brief)
	b.WriteString("<notes>\n")
	for i, note := range notes {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, note)
	}
	b.WriteString("</notes>\n")
	return []transcript.Message{{Role: transcript.RoleUser, Content: b.String()}}
}

const partialReportExcerptLimit = 2000

// partialReport is the error document produced when report synthesis
// fails even after truncate-and-retry: the brief plus a truncated notes
// excerpt, so the caller still gets something usable.
func partialReport(brief string, notes []string, cause error) string {
	joined := strings.Join(notes, "\n\n")
	if len(joined) > partialReportExcerptLimit {
		joined = joined[:partialReportExcerptLimit] + "…"
	}
	return fmt.Sprintf(
		"# Research Report (partial)\n\nReport synthesis failed: %v\n\n## Brief\n\n%s\n\n## Notes (truncated excerpt)\n\n%s\n",
		cause, brief, joined,
	)
}

var citationRegex = regexp.MustCompile(`\[(\d+)\]`)

// RenumberCitations walks [n]-style citation markers in markdown and
// renumbers them densely in first-appearance order. A model is free to
// emit duplicate or out-of-order indices across sub-agent notes; this
// pass gives the final report a clean 1, 2, 3… sequence.
func RenumberCitations(markdown string) string {
	assigned := map[string]int{}
	next := 1

	return citationRegex.ReplaceAllStringFunc(markdown, func(match string) string {
		original := citationRegex.FindStringSubmatch(match)[1]
		n, ok := assigned[original]
		if !ok {
			n = next
			assigned[original] = n
			next++
		}
		return "[" + strconv.Itoa(n) + "]"
	})
}
