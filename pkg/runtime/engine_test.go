package runtime

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// fakeProvider serves canned resources and logs, with optional scripted
// errors per resource type.
type fakeProvider struct {
	resources  map[string][]snapshot.Resource
	errs       map[string]error
	logs       []snapshot.LogEntry
	logErr     error
	fetchCalls int
}

func (p *fakeProvider) Fetch(_ context.Context, _, resourceType, _ string) ([]snapshot.Resource, error) {
	p.fetchCalls++
	if err, ok := p.errs[resourceType]; ok {
		return nil, err
	}
	return p.resources[resourceType], nil
}

func (p *fakeProvider) FetchLogs(_ context.Context, _, _ string, _ snapshot.TimeRange) (snapshot.LogIterator, error) {
	if p.logErr != nil {
		return nil, p.logErr
	}
	return snapshot.NewSliceIterator(p.logs), nil
}

func clusterRunbook(tree []schema.StepNode) *schema.Runbook {
	return &schema.Runbook{
		APIVersion: "diag/v1",
		Meta: schema.Meta{
			Name:    "cluster-autoscaler",
			Product: "gke",
			Params: map[string]*schema.ParamDef{
				"project": {Type: "string", Required: true, Example: "my-project"},
				"name":    {Type: "string", Required: true, Example: "prod-cluster"},
			},
		},
		Tree: tree,
	}
}

func startNode() schema.StepNode {
	return schema.StepNode{Step: schema.Step{
		ID:       "start",
		Kind:     schema.KindStart,
		Resource: &schema.ResourceQuery{Type: "gke/cluster", Filter: "name={{.name}}"},
		Export:   map[string]string{"cluster_autopilot": "autopilot"},
	}}
}

func cluster(name string, attrs map[string]any) snapshot.Resource {
	return snapshot.Resource{Type: "gke/cluster", Project: "p1", Name: name, Attrs: attrs}
}

func runTree(t *testing.T, provider snapshot.Provider, tree []schema.StepNode, values map[string]string) *report.Report {
	t.Helper()
	eng, err := NewEngine(clusterRunbook(tree), provider, values, Options{})
	require.NoError(t, err)
	return eng.Run(context.Background())
}

func TestMissingRequiredParamShortCircuits(t *testing.T) {
	provider := &fakeProvider{}
	rep := runTree(t, provider, []schema.StepNode{startNode()}, map[string]string{"project": "p1"})

	assert.Equal(t, report.Skipped, rep.Status)
	assert.Contains(t, rep.Message, `"name"`)
	assert.Contains(t, rep.Message, "prod-cluster") // example surfaces in the hint
	assert.Empty(t, rep.Results)
	assert.Zero(t, provider.fetchCalls, "no provider call before parameters validate")
}

func TestStartResourceNotFound(t *testing.T) {
	provider := &fakeProvider{} // no clusters at all
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "exists", Kind: schema.KindAutomated, Check: "resource-exists",
			Resource: &schema.ResourceQuery{Type: "gke/nodepool"},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "ghost"})

	assert.Equal(t, report.Skipped, rep.Status)
	assert.Contains(t, rep.Message, "not found")
	assert.Empty(t, rep.Results, "downstream steps must not run")
	assert.Equal(t, 1, provider.fetchCalls)
}

func TestGatewayFirstTrueBranchWins(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"autopilot": true, "replicas": 1})},
		},
	}
	branchStep := func(id, predicate string) []schema.StepNode {
		return []schema.StepNode{{Step: schema.Step{
			ID: id, Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: predicate},
		}}}
	}
	tree := []schema.StepNode{
		startNode(),
		{
			Step: schema.Step{ID: "mode", Kind: schema.KindGateway},
			Branches: []schema.Branch{
				{When: "cluster_autopilot == true", Label: "autopilot", Steps: branchStep("ap-check", "replicas >= 3")},
				{When: "true", Label: "standard", Steps: branchStep("std-check", "replicas >= 0")},
			},
		},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "ap-check", rep.Results[0].StepID)
	assert.Equal(t, report.Failed, rep.Results[0].Outcome)
	assert.Equal(t, report.Failed, rep.Status)
}

func TestGatewayNoBranchMatched(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"autopilot": false})},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{
			Step: schema.Step{ID: "mode", Kind: schema.KindGateway},
			Branches: []schema.Branch{
				{When: "cluster_autopilot == true", Steps: []schema.StepNode{
					{Step: schema.Step{ID: "unreached", Kind: schema.KindEnd}},
				}},
			},
		},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "mode", rep.Results[0].StepID)
	assert.Equal(t, report.Uncertain, rep.Results[0].Outcome)
}

func TestLogScanFirstPatternWins(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", nil)},
		},
		logs: []snapshot.LogEntry{
			{InsertID: "a", Resource: "c1", Payload: "scale.up.error.quota.exceeded in zone us-east1-b"},
			{InsertID: "b", Resource: "c1", Payload: "scale.up.error.quota.exceeded again"},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "scan", Kind: schema.KindAutomated, Check: "log-scan",
			With: &schema.CheckConfig{
				LogFilter: "resource.type=cluster",
				Window:    "last:2h",
				Patterns: []schema.Pattern{
					{Match: `scale\.up\.error\.quota`, Outcome: "failed", Reason: "compute quota exhausted"},
					{Match: `scale\.up\.error`, Outcome: "uncertain", Reason: "unclassified scale-up error"},
				},
			},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 1, "one conclusion per resource")
	r := rep.Results[0]
	assert.Equal(t, report.Failed, r.Outcome)
	assert.Equal(t, "compute quota exhausted", r.Detail.Reason)
	require.NotNil(t, r.Evidence)
	assert.Equal(t, "a", r.Evidence.Fields["insert_id"], "first matching entry concludes")
}

func TestLogScanPerResourceFillsOK(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {
				cluster("bad", nil),
				cluster("good", nil),
			},
		},
		logs: []snapshot.LogEntry{
			{Resource: "projects/p1/gke/cluster/bad", Payload: "scale.up.error.quota.exceeded"},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "scan", Kind: schema.KindAutomated, Check: "log-scan", Emit: "per-resource",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With: &schema.CheckConfig{
				Window: "last:1h",
				Patterns: []schema.Pattern{
					{Match: `quota\.exceeded`, Outcome: "failed", Reason: "quota exhausted"},
				},
			},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 2)
	byResource := map[string]report.Outcome{}
	for _, r := range rep.Results {
		byResource[r.Resource] = r.Outcome
	}
	assert.Equal(t, report.Failed, byResource["projects/p1/gke/cluster/bad"])
	assert.Equal(t, report.OK, byResource["projects/p1/gke/cluster/good"])
	assert.Equal(t, report.Failed, rep.Status)
}

func TestTransientExhaustionIsUncertain(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"ready": true})},
		},
		errs: map[string]error{
			"gke/nodepool": &snapshot.TransientError{Op: "list nodepools", Err: context.DeadlineExceeded},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "pools", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/nodepool"},
			With:     &schema.CheckConfig{Predicate: "autoscaling == true"},
		}},
		{Step: schema.Step{
			ID: "ready", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: "ready == true"},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 2, "run continues past the degraded step")
	assert.Equal(t, report.Uncertain, rep.Results[0].Outcome)
	assert.Contains(t, rep.Results[0].Detail.Reason, "could not retrieve")
	assert.Equal(t, report.OK, rep.Results[1].Outcome)
	assert.Equal(t, report.Uncertain, rep.Status, "uncertain outranks ok")
}

func TestDeletedResourceIsUncertain(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", nil)},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "pools", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/nodepool", Filter: "cluster=c1"},
			With:     &schema.CheckConfig{Predicate: "autoscaling == true"},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 1)
	assert.Equal(t, report.Uncertain, rep.Results[0].Outcome)
	assert.Contains(t, rep.Results[0].Detail.Reason, "may have been deleted")
}

func TestCompositeOverridesAreScoped(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"replicas": 3})},
		},
	}
	replicaCheck := func(id string) schema.StepNode {
		return schema.StepNode{Step: schema.Step{
			ID: id, Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: "replicas >= threshold"},
		}}
	}
	tree := []schema.StepNode{
		startNode(),
		{
			Step: schema.Step{
				ID: "relaxed", Kind: schema.KindComposite,
				Overrides: map[string]string{"threshold": "2"},
			},
			Steps: []schema.StepNode{replicaCheck("inner")},
		},
		replicaCheck("outer"),
	}
	rb := clusterRunbook(tree)
	rb.Meta.Params["threshold"] = &schema.ParamDef{Type: "int"}
	eng, err := NewEngine(rb, provider, map[string]string{
		"project": "p1", "name": "c1", "threshold": "5",
	}, Options{})
	require.NoError(t, err)
	rep := eng.Run(context.Background())

	outcomes := map[string]report.Outcome{}
	for _, r := range rep.Results {
		outcomes[r.StepID] = r.Outcome
	}
	assert.Equal(t, report.OK, outcomes["inner"], "override lowers the threshold inside the scope")
	assert.Equal(t, report.OK, outcomes["relaxed"], "composite summary rolls up its children")
	assert.Equal(t, report.Failed, outcomes["outer"], "outer scope still sees the caller's threshold")
}

func TestCompositeSummaryCountsFailures(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"a": true, "b": false})},
		},
	}
	attr := func(id, predicate string) schema.StepNode {
		return schema.StepNode{Step: schema.Step{
			ID: id, Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: predicate},
		}}
	}
	tree := []schema.StepNode{
		startNode(),
		{
			Step:  schema.Step{ID: "health", Kind: schema.KindComposite},
			Steps: []schema.StepNode{attr("a-check", "a == true"), attr("b-check", "b == true")},
		},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	var summary *report.Result
	for i := range rep.Results {
		if rep.Results[i].StepID == "health" {
			summary = &rep.Results[i]
		}
	}
	require.NotNil(t, summary)
	assert.Equal(t, report.Failed, summary.Outcome)
	assert.Contains(t, summary.Detail.Reason, "1 of 2")
}

func TestBundleRunsAllChildrenWithoutSummary(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"a": false, "b": false})},
		},
	}
	attr := func(id, predicate string) schema.StepNode {
		return schema.StepNode{Step: schema.Step{
			ID: id, Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: predicate},
		}}
	}
	tree := []schema.StepNode{
		startNode(),
		{
			Step:  schema.Step{ID: "extras", Kind: schema.KindBundle},
			Steps: []schema.StepNode{attr("a-check", "a == true"), attr("b-check", "b == true")},
		},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 2, "both children ran, no bundle summary")
	for _, r := range rep.Results {
		assert.NotEqual(t, "extras", r.StepID)
		assert.Equal(t, report.Failed, r.Outcome)
	}
}

func TestSkipIfMissingRecordsSkipped(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"ready": true})},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "optional", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource:      &schema.ResourceQuery{Type: "gke/cluster"},
			With:          &schema.CheckConfig{Predicate: "ready == true"},
			SkipIfMissing: []string{"location"},
		}},
		{Step: schema.Step{
			ID: "always", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: "ready == true"},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 2)
	assert.Equal(t, report.Skipped, rep.Results[0].Outcome)
	assert.Contains(t, rep.Results[0].Detail.Reason, "location")
	assert.Equal(t, report.OK, rep.Results[1].Outcome)
	assert.Equal(t, report.OK, rep.Status, "skipped results do not degrade the roll-up")
}

func TestEndStopsTheRun(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"ready": true})},
		},
	}
	tree := []schema.StepNode{
		startNode(),
		{Step: schema.Step{
			ID: "first", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: "ready == true"},
		}},
		{Step: schema.Step{ID: "done", Kind: schema.KindEnd}},
		{Step: schema.Step{
			ID: "never", Kind: schema.KindAutomated, Check: "resource-attr",
			Resource: &schema.ResourceQuery{Type: "gke/cluster"},
			With:     &schema.CheckConfig{Predicate: "ready == true"},
		}},
	}
	rep := runTree(t, provider, tree, map[string]string{"project": "p1", "name": "c1"})

	require.Len(t, rep.Results, 1)
	assert.Equal(t, "first", rep.Results[0].StepID)
}

func TestCancellationStopsBetweenSteps(t *testing.T) {
	provider := &fakeProvider{
		resources: map[string][]snapshot.Resource{
			"gke/cluster": {cluster("c1", map[string]any{"ready": true})},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, err := NewEngine(clusterRunbook([]schema.StepNode{startNode()}), provider,
		map[string]string{"project": "p1", "name": "c1"}, Options{})
	require.NoError(t, err)
	rep := eng.Run(ctx)

	assert.Empty(t, rep.Results)
	assert.Equal(t, report.Skipped, rep.Status)
	assert.Zero(t, provider.fetchCalls)
}

func TestBadParamValueIsConfigError(t *testing.T) {
	rb := clusterRunbook([]schema.StepNode{startNode()})
	rb.Meta.Params["retries"] = &schema.ParamDef{Type: "int"}

	_, err := NewEngine(rb, &fakeProvider{}, map[string]string{"retries": "lots"}, Options{})
	require.Error(t, err)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestRunIDFormat(t *testing.T) {
	id := GenerateRunID()
	assert.True(t, strings.Contains(id, "-"))
	assert.Len(t, id, len("20060102T150405")+1+8)
}
