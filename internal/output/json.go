package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/deskops/requesterctl/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatSummary renders a run summary as JSON.
func (f *JSONFormatter) FormatSummary(summary *core.RunSummary) (string, error) {
	if summary == nil {
		return "", nil
	}
	return f.marshal(summary)
}

// FormatOutcomes renders outcomes as a JSON array.
func (f *JSONFormatter) FormatOutcomes(outcomes []*core.Outcome) (string, error) {
	if outcomes == nil {
		outcomes = []*core.Outcome{}
	}
	return f.marshal(outcomes)
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// YAMLFormatter renders results as YAML.
type YAMLFormatter struct{}

// FormatSummary renders a run summary as YAML.
func (f *YAMLFormatter) FormatSummary(summary *core.RunSummary) (string, error) {
	if summary == nil {
		return "", nil
	}
	data, err := yaml.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FormatOutcomes renders outcomes as a YAML sequence.
func (f *YAMLFormatter) FormatOutcomes(outcomes []*core.Outcome) (string, error) {
	if outcomes == nil {
		outcomes = []*core.Outcome{}
	}
	data, err := yaml.Marshal(outcomes)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
