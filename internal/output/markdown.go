package output

import (
	"fmt"
	"strings"

	"github.com/deskops/requesterctl/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

// FormatSummary renders a run summary as Markdown.
func (f *MarkdownFormatter) FormatSummary(summary *core.RunSummary) (string, error) {
	if summary == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(string(summary.Operation))))
	sb.WriteString("| Status | Count |\n")
	sb.WriteString("|--------|-------|\n")
	for _, status := range core.Statuses {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", status, summary.Counts[status]))
	}
	sb.WriteString(fmt.Sprintf("\n**Result**: %s\n", countLine(summary)))
	if summary.Aborted {
		sb.WriteString("\n**Run aborted before all rows were processed.**\n")
	}

	if failed := summary.NonSuccess(); len(failed) > 0 {
		sb.WriteString("\n")
		sb.WriteString(markdownOutcomes(failed))
	}
	return sb.String(), nil
}

// FormatOutcomes renders outcomes as a Markdown table.
func (f *MarkdownFormatter) FormatOutcomes(outcomes []*core.Outcome) (string, error) {
	if len(outcomes) == 0 {
		return "", nil
	}
	return markdownOutcomes(outcomes), nil
}

func markdownOutcomes(outcomes []*core.Outcome) string {
	var sb strings.Builder
	sb.WriteString("| Requester | Operation | Status | Step | HTTP | Notes |\n")
	sb.WriteString("|-----------|-----------|--------|------|------|-------|\n")
	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			escapeMarkdownCell(subjectLabel(outcome)),
			escapeMarkdownCell(string(outcome.Operation)),
			escapeMarkdownCell(string(outcome.Status)),
			escapeMarkdownCell(outcome.Step),
			statusCodeLabel(outcome),
			escapeMarkdownCell(outcomeNotes(outcome)),
		))
	}
	return sb.String()
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "|", "\\|")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}
