package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario holds captured provider responses for offline replay. Replay is
// fail-closed: a query with no matching fixture is an error, so a runbook
// silently drifting away from its fixtures fails loudly in tests.
type Scenario struct {
	Resources []ResourceFixture `yaml:"resources,omitempty"`
	Logs      []LogFixture      `yaml:"logs,omitempty"`
}

// ResourceFixture answers one Fetch query.
type ResourceFixture struct {
	ResourceType string     `yaml:"resource_type"`
	Project      string     `yaml:"project,omitempty"`
	Filter       string     `yaml:"filter,omitempty"` // empty matches any filter for the type
	Error        string     `yaml:"error,omitempty"`  // "", "transient", "not_found"
	Items        []Resource `yaml:"items,omitempty"`
}

// LogFixture answers one FetchLogs query.
type LogFixture struct {
	Project string     `yaml:"project,omitempty"`
	Filter  string     `yaml:"filter,omitempty"`
	Error   string     `yaml:"error,omitempty"`
	Entries []LogEntry `yaml:"entries,omitempty"`
}

// LoadScenario reads every *.yaml fixture file in dir and merges them into
// a single scenario.
func LoadScenario(dir string) (*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	merged := &Scenario{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read fixture %s: %w", e.Name(), err)
		}
		var s Scenario
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse fixture %s: %w", e.Name(), err)
		}
		merged.Resources = append(merged.Resources, s.Resources...)
		merged.Logs = append(merged.Logs, s.Logs...)
	}
	return merged, nil
}

// ReplayProvider serves captured fixtures instead of live API calls.
type ReplayProvider struct {
	scenario *Scenario
}

// NewReplayProvider creates a provider backed by the given scenario.
func NewReplayProvider(s *Scenario) *ReplayProvider {
	return &ReplayProvider{scenario: s}
}

func (p *ReplayProvider) Fetch(ctx context.Context, project, resourceType, filter string) ([]Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range p.scenario.Resources {
		if f.ResourceType != resourceType {
			continue
		}
		if f.Project != "" && f.Project != project {
			continue
		}
		if f.Filter != "" && f.Filter != filter {
			continue
		}
		switch f.Error {
		case "transient":
			return nil, &TransientError{Op: "fetch " + resourceType, Err: fmt.Errorf("replay: scripted transient error")}
		case "not_found":
			return nil, &NotFoundError{ResourceType: resourceType, Filter: filter}
		}
		return f.Items, nil
	}
	return nil, fmt.Errorf("replay: no fixture for fetch(%s, %s, %q)", project, resourceType, filter)
}

func (p *ReplayProvider) FetchLogs(ctx context.Context, project, filter string, window TimeRange) (LogIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range p.scenario.Logs {
		if f.Project != "" && f.Project != project {
			continue
		}
		if f.Filter != "" && f.Filter != filter {
			continue
		}
		switch f.Error {
		case "transient":
			return nil, &TransientError{Op: "fetch_logs", Err: fmt.Errorf("replay: scripted transient error")}
		case "not_found":
			return nil, &NotFoundError{ResourceType: "logs", Filter: filter}
		}
		return NewSliceIterator(f.Entries), nil
	}
	return nil, fmt.Errorf("replay: no fixture for fetch_logs(%s, %q)", project, filter)
}
