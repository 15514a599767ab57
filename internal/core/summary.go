package core

import "time"

// RunSummary aggregates the outcomes of one batch run.
type RunSummary struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	Operation  Operation      `json:"operation" yaml:"operation"`
	Input      string         `json:"input,omitempty" yaml:"input,omitempty"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Counts     map[Status]int `json:"counts" yaml:"counts"`
	Outcomes   []*Outcome     `json:"outcomes" yaml:"outcomes"`
	// Aborted is set when the run stopped before every row was processed.
	Aborted bool `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// Add records an outcome and updates the per-status counts.
func (s *RunSummary) Add(outcome *Outcome) {
	if s == nil || outcome == nil {
		return
	}
	if s.Counts == nil {
		s.Counts = make(map[Status]int, len(Statuses))
	}
	s.Counts[outcome.Status]++
	s.Outcomes = append(s.Outcomes, outcome)
}

// Total returns the number of recorded outcomes.
func (s *RunSummary) Total() int {
	if s == nil {
		return 0
	}
	return len(s.Outcomes)
}

// Failures returns the number of outcomes that need operator attention.
func (s *RunSummary) Failures() int {
	if s == nil {
		return 0
	}
	n := 0
	for status, count := range s.Counts {
		if status.IsFailure() {
			n += count
		}
	}
	return n
}

// NonSuccess returns every outcome whose status is not Success, in run order.
func (s *RunSummary) NonSuccess() []*Outcome {
	if s == nil {
		return nil
	}
	var out []*Outcome
	for _, outcome := range s.Outcomes {
		if outcome != nil && outcome.Status != StatusSuccess {
			out = append(out, outcome)
		}
	}
	return out
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s == nil || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
