// Package runtime implements the runbook interpreter: a single-pass,
// depth-first tree walker over the step graph, with per-step state
// tracking, scoped parameters, and result aggregation.
package runtime

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/siftlabs/sift/pkg/report"
)

// StepState is the lifecycle of one step instance within a run.
type StepState string

const (
	StatePending   StepState = "pending"
	StateRunning   StepState = "running"
	StateCompleted StepState = "completed"
	StateSkipped   StepState = "skipped"
)

// GenerateRunID creates a run ID in format YYYYMMDDTHHmmss-xxxx.
func GenerateRunID() string {
	ts := time.Now().Format("20060102T150405")
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("%s-%x", ts, suffix)
}

// StepsSummary counts step states at the end of a run.
type StepsSummary struct {
	Total     int `yaml:"total"     json:"total"`
	Completed int `yaml:"completed" json:"completed"`
	Skipped   int `yaml:"skipped"   json:"skipped"`
}

// RunManifest records the complete metadata for a runbook execution.
// Written as run.yaml after a run completes.
type RunManifest struct {
	RunID        string            `yaml:"run_id"             json:"run_id"`
	Runbook      string            `yaml:"runbook"            json:"runbook"`
	Mode         string            `yaml:"mode"               json:"mode"`
	StartedAt    string            `yaml:"started_at"         json:"started_at"`
	EndedAt      string            `yaml:"ended_at"           json:"ended_at"`
	Status       report.Outcome    `yaml:"status"             json:"status"`
	Params       map[string]string `yaml:"params,omitempty"   json:"params,omitempty"`
	StepsSummary StepsSummary      `yaml:"steps_summary"      json:"steps_summary"`
}

// ConfigError is the only error class allowed to abort a whole run:
// unknown runbook, malformed tree, or invalid caller parameters. Every
// other failure mode resolves to a Result outcome.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Configf builds a ConfigError.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
