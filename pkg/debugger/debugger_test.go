package debugger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/runtime"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

type stubProvider struct{}

func (stubProvider) Fetch(_ context.Context, _, resourceType, _ string) ([]snapshot.Resource, error) {
	return []snapshot.Resource{{Type: resourceType, Project: "p1", Name: "c1",
		Attrs: map[string]any{"ready": true}}}, nil
}

func (stubProvider) FetchLogs(_ context.Context, _, _ string, _ snapshot.TimeRange) (snapshot.LogIterator, error) {
	return snapshot.NewSliceIterator(nil), nil
}

func testRunbook() *schema.Runbook {
	return &schema.Runbook{
		APIVersion: "diag/v1",
		Meta: schema.Meta{
			Name: "c", Product: "gke",
			Params: map[string]*schema.ParamDef{
				"project": {Type: "string", Required: true},
				"name":    {Type: "string", Required: true},
			},
		},
		Tree: []schema.StepNode{
			{Step: schema.Step{ID: "start", Kind: schema.KindStart,
				Resource: &schema.ResourceQuery{Type: "gke/cluster"}}},
			{Step: schema.Step{ID: "ready", Kind: schema.KindAutomated, Check: "resource-attr",
				Resource: &schema.ResourceQuery{Type: "gke/cluster"},
				With:     &schema.CheckConfig{Predicate: "ready == true"}}},
		},
	}
}

func newTestDebugger(t *testing.T) (*Debugger, *bytes.Buffer) {
	t.Helper()
	d, err := New(testRunbook(), stubProvider{}, map[string]string{"project": "p1", "name": "c1"}, runtime.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := &bytes.Buffer{}
	d.output = buf
	return d, buf
}

func TestHandleCommandVerdicts(t *testing.T) {
	d, _ := newTestDebugger(t)
	step := schema.Step{ID: "ready"}

	tests := []struct {
		line string
		want runtime.Decision
		done bool
	}{
		{"next", runtime.DecisionRun, true},
		{"n", runtime.DecisionRun, true},
		{"skip", runtime.DecisionSkip, true},
		{"quit", runtime.DecisionAbort, true},
		{"params", 0, false},
		{"results", 0, false},
		{"help", 0, false},
		{"bogus", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, done := d.handleCommand(tt.line, step)
		if done != tt.done || (done && got != tt.want) {
			t.Errorf("handleCommand(%q) = (%v, %v), want (%v, %v)", tt.line, got, done, tt.want, tt.done)
		}
	}
}

func TestContinueTurnsOnAutoRun(t *testing.T) {
	d, _ := newTestDebugger(t)

	got, done := d.handleCommand("continue", schema.Step{ID: "ready"})
	if !done || got != runtime.DecisionRun {
		t.Fatalf("continue = (%v, %v), want (DecisionRun, true)", got, done)
	}
	if !d.auto {
		t.Error("continue should enable auto-run")
	}
	if d.pause(schema.Step{ID: "next-step"}) != runtime.DecisionRun {
		t.Error("pause should not prompt once auto-run is on")
	}
}

func TestAutoRunProducesReport(t *testing.T) {
	d, _ := newTestDebugger(t)
	d.auto = true

	rep := d.engine.Run(context.Background())
	if rep.Status != report.OK {
		t.Fatalf("status = %s, want ok", rep.Status)
	}
	if len(rep.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(rep.Results))
	}
}

func TestPrintResultsShowsRecorded(t *testing.T) {
	d, buf := newTestDebugger(t)
	d.auto = true
	d.engine.Run(context.Background())

	d.printResults()
	out := buf.String()
	if !strings.Contains(out, "ready") || !strings.Contains(out, "ok") {
		t.Errorf("printResults output missing result line:\n%s", out)
	}
}

func TestPrintParamsSortsNames(t *testing.T) {
	d, buf := newTestDebugger(t)
	d.printParams()

	out := buf.String()
	if !strings.Contains(out, "name = c1") || !strings.Contains(out, "project = p1") {
		t.Errorf("printParams output missing parameters:\n%s", out)
	}
	if strings.Index(out, "name") > strings.Index(out, "project") {
		t.Error("parameters should be sorted by name")
	}
}
