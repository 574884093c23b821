package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siftlabs/sift/pkg/catalog"
	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// End-to-end: a shipped runbook replayed against recorded fixtures, with
// artifacts written to disk.
func TestClusterAutoscalerReplay(t *testing.T) {
	runbooks, err := catalog.Load()
	require.NoError(t, err)
	var rb = runbooks[0]
	for _, r := range runbooks {
		if r.Meta.FullName() == "gke/cluster-autoscaler" {
			rb = r
		}
	}
	require.Equal(t, "gke/cluster-autoscaler", rb.Meta.FullName())

	scenario, err := snapshot.LoadScenario(filepath.Join("testdata", "gke-cluster-autoscaler"))
	require.NoError(t, err)

	artifacts := t.TempDir()
	eng, err := NewEngine(rb, snapshot.NewReplayProvider(scenario), map[string]string{
		"project": "diag-demo",
		"name":    "prod-cluster",
	}, Options{Mode: "replay", ArtifactsDir: artifacts})
	require.NoError(t, err)

	rep := eng.Run(context.Background())

	assert.Equal(t, report.Failed, rep.Status)

	outcomes := map[string]map[string]report.Outcome{}
	for _, r := range rep.Results {
		if outcomes[r.StepID] == nil {
			outcomes[r.StepID] = map[string]report.Outcome{}
		}
		outcomes[r.StepID][r.Resource] = r.Outcome
	}

	// The cluster is standard mode: the autopilot branch must not run.
	assert.NotContains(t, outcomes, "autopilot-scale-up")

	poolA := "projects/diag-demo/gke/nodepool/pool-a"
	poolB := "projects/diag-demo/gke/nodepool/pool-b"
	assert.Equal(t, report.OK, outcomes["nodepool-autoscaling"][poolA])
	assert.Equal(t, report.Failed, outcomes["nodepool-autoscaling"][poolB])
	assert.Equal(t, report.Failed, outcomes["scale-up-errors"][poolA], "quota pattern concludes pool-a")
	assert.Equal(t, report.OK, outcomes["scale-up-errors"][poolB], "per-resource emit fills the quiet pool")

	for _, name := range []string{"run.yaml", "trace.jsonl", "report.json"} {
		_, err := os.Stat(filepath.Join(eng.BaseDir(), name))
		assert.NoError(t, err, "artifact %s should exist", name)
	}
}
