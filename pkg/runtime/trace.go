package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/siftlabs/sift/pkg/report"
)

// TraceEvent is one JSONL record describing a step state transition or a
// recorded result.
type TraceEvent struct {
	Type      string         `json:"type"` // step_state, result
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	StepID    string         `json:"step_id,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	State     StepState      `json:"state,omitempty"`
	Note      string         `json:"note,omitempty"`
	Result    *report.Result `json:"result,omitempty"`
}

// TraceWriter writes TraceEvents to a JSONL trace file. A nil TraceWriter
// is valid and discards everything, so artifact-free runs need no guards.
type TraceWriter struct {
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
	runID  string
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path, runID string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{
		file:   f,
		writer: w,
		enc:    json.NewEncoder(w),
		runID:  runID,
	}, nil
}

// StepState records a state transition for a step.
func (tw *TraceWriter) StepState(stepID, kind string, state StepState, note string) error {
	if tw == nil {
		return nil
	}
	return tw.write(TraceEvent{
		Type:      "step_state",
		Timestamp: time.Now(),
		RunID:     tw.runID,
		StepID:    stepID,
		Kind:      kind,
		State:     state,
		Note:      note,
	})
}

// Result records an emitted result.
func (tw *TraceWriter) Result(r report.Result) error {
	if tw == nil {
		return nil
	}
	return tw.write(TraceEvent{
		Type:      "result",
		Timestamp: time.Now(),
		RunID:     tw.runID,
		StepID:    r.StepID,
		Result:    &r,
	})
}

func (tw *TraceWriter) write(ev TraceEvent) error {
	if err := tw.enc.Encode(ev); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	// Flush at step boundaries so a crash leaves a usable trace.
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if tw == nil {
		return nil
	}
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
