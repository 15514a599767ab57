package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/deskops/requesterctl/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatSummary renders per-status counts followed by the rows that did not
// succeed.
func (f *TableFormatter) FormatSummary(summary *core.RunSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	counts := table.NewWriter()
	counts.SetStyle(table.StyleRounded)
	counts.SetTitle(fmt.Sprintf("%s (run %s)", summary.Operation, shortID(summary.RunID)))
	counts.AppendHeader(table.Row{"Status", "Count"})
	for _, status := range core.Statuses {
		counts.AppendRow(table.Row{string(status), summary.Counts[status]})
	}
	footer := fmt.Sprintf("%d rows", summary.Total())
	if summary.Aborted {
		footer += ", aborted"
	}
	counts.AppendFooter(table.Row{"Total", footer})

	var sb strings.Builder
	sb.WriteString(counts.Render())

	if failed := summary.NonSuccess(); len(failed) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(outcomeTable(failed, false))
	}
	return sb.String(), nil
}

// FormatOutcomes renders outcomes one per row.
func (f *TableFormatter) FormatOutcomes(outcomes []*core.Outcome) (string, error) {
	if len(outcomes) == 0 {
		return "", nil
	}
	return outcomeTable(outcomes, true), nil
}

func outcomeTable(outcomes []*core.Outcome, withTime bool) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	header := table.Row{"Requester", "Operation", "Status", "Step", "HTTP", "Notes"}
	if withTime {
		header = append(table.Row{"Resolved"}, header...)
	}
	t.AppendHeader(header)

	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		row := table.Row{
			subjectLabel(outcome),
			string(outcome.Operation),
			string(outcome.Status),
			outcome.Step,
			statusCodeLabel(outcome),
			outcomeNotes(outcome),
		}
		if withTime {
			row = append(table.Row{outcome.ResolvedAt.Format("2006-01-02 15:04:05")}, row...)
		}
		t.AppendRow(row)
	}
	return t.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
