package output

import (
	"fmt"
	"strings"

	"github.com/deskops/requesterctl/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formatter renders run summaries and outcome lists.
type Formatter interface {
	FormatSummary(summary *core.RunSummary) (string, error)
	FormatOutcomes(outcomes []*core.Outcome) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func subjectLabel(outcome *core.Outcome) string {
	if outcome == nil {
		return ""
	}
	if outcome.Operation == core.OperationMerge && outcome.SecondaryID != 0 {
		return fmt.Sprintf("%s <- %s", outcome.Subject(), outcome.SecondaryID)
	}
	return outcome.Subject()
}

func statusCodeLabel(outcome *core.Outcome) string {
	if outcome == nil || outcome.StatusCode == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d", outcome.StatusCode)
}

func outcomeNotes(outcome *core.Outcome) string {
	if outcome == nil {
		return ""
	}
	notes := outcome.Message
	if outcome.LeftReactivated {
		notes = appendNote(notes, "primary left active")
	}
	if body := truncate(strings.TrimSpace(outcome.Body), 120); body != "" && outcome.Status != core.StatusSuccess {
		notes = appendNote(notes, body)
	}
	return notes
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "; " + note
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if limit <= 0 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func countLine(summary *core.RunSummary) string {
	parts := make([]string, 0, len(core.Statuses))
	for _, status := range core.Statuses {
		if count := summary.Counts[status]; count > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", count, status))
		}
	}
	if len(parts) == 0 {
		return "no rows processed"
	}
	return strings.Join(parts, ", ")
}
