// Package report defines the per-resource result model, the append-only
// aggregator, and the renderers that turn a finalized report into text.
package report

import (
	"fmt"
	"sync"
	"time"
)

// Outcome classifies the evaluation of one step against one resource.
type Outcome string

const (
	OK        Outcome = "ok"
	Failed    Outcome = "failed"
	Uncertain Outcome = "uncertain"
	Skipped   Outcome = "skipped"
)

// Severity ranks outcomes for aggregation: failed > uncertain > ok > skipped.
func (o Outcome) Severity() int {
	switch o {
	case Failed:
		return 3
	case Uncertain:
		return 2
	case OK:
		return 1
	default:
		return 0
	}
}

// Detail carries the reason/remediation templates for a Result plus the
// named substitution values bound at evaluation time. The templates are
// resolved into text only at the renderer boundary, so Result equality in
// tests is exact rather than string-based.
type Detail struct {
	Reason      string            `json:"reason,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Evidence is an optional structured payload attached to a Result,
// typically the log entry that matched a pattern.
type Evidence struct {
	Kind    string            `json:"kind"` // log, resource
	Summary string            `json:"summary,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Result is the classified outcome of evaluating one step against one
// resource. Results are never mutated after creation.
type Result struct {
	StepID   string    `json:"step_id"`
	Resource string    `json:"resource"`
	Outcome  Outcome   `json:"outcome"`
	Detail   Detail    `json:"detail"`
	Evidence *Evidence `json:"evidence,omitempty"`
}

// Report is the finalized, aggregated outcome of an entire runbook run.
type Report struct {
	RunID     string    `json:"run_id"`
	Runbook   string    `json:"runbook"`
	Status    Outcome   `json:"status"`
	Message   string    `json:"message,omitempty"`
	Results   []Result  `json:"results"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Aggregator collects Results during a run and freezes them into a Report.
type Aggregator struct {
	mu        sync.Mutex
	runID     string
	runbook   string
	startedAt time.Time
	message   string
	results   []Result
	frozen    *Report
}

// NewAggregator creates an empty aggregator for one run.
func NewAggregator(runID, runbook string) *Aggregator {
	return &Aggregator{
		runID:     runID,
		runbook:   runbook,
		startedAt: time.Now(),
	}
}

// Record appends a Result. Recording after Finalize is a programming error
// and is reported as such rather than silently dropped.
func (a *Aggregator) Record(r Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen != nil {
		return fmt.Errorf("record after finalize: step %q resource %q", r.StepID, r.Resource)
	}
	a.results = append(a.results, r)
	return nil
}

// SetMessage sets the top-level report message shown when a run produces
// no results (for example a start step short-circuit).
func (a *Aggregator) SetMessage(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen == nil {
		a.message = msg
	}
}

// Count returns the number of recorded results so far.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Finalize freezes the report. The first call computes the overall status;
// subsequent calls return the identical frozen Report.
func (a *Aggregator) Finalize() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen != nil {
		return a.frozen
	}

	status := Skipped
	for _, r := range a.results {
		if r.Outcome.Severity() > status.Severity() {
			status = r.Outcome
		}
	}

	msg := a.message
	if len(a.results) == 0 && msg == "" {
		msg = "no diagnostic steps produced results (all steps skipped)"
	}

	results := make([]Result, len(a.results))
	copy(results, a.results)

	a.frozen = &Report{
		RunID:     a.runID,
		Runbook:   a.runbook,
		Status:    status,
		Message:   msg,
		Results:   results,
		StartedAt: a.startedAt,
		EndedAt:   time.Now(),
	}
	return a.frozen
}

// RollUp returns the most severe outcome among the given results, or
// Skipped when the slice is empty. Composite steps use this to summarize
// their children; the ordering matches the report-level aggregation rule.
func RollUp(results []Result) Outcome {
	out := Skipped
	for _, r := range results {
		if r.Outcome.Severity() > out.Severity() {
			out = r.Outcome
		}
	}
	return out
}
