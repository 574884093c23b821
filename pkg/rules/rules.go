// Package rules is the lint-rule corpus: independent point checks that
// run against a snapshot provider without the runbook state machine.
// Rules share the report model with runbook runs but nothing else.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// Rule is one independent check. Run appends zero or more results for
// the resources it inspected; a rule that cannot fetch its data records
// UNCERTAIN rather than returning an error.
type Rule struct {
	Product string
	ID      string
	Short   string
	Run     func(ctx context.Context, provider snapshot.Provider, project string) []report.Result
}

// FullID returns "product/id", the key used by the CLI.
func (r Rule) FullID() string { return r.Product + "/" + r.ID }

// table is the explicit registration table. Rules are listed here, not
// discovered; the order within a product is the execution order.
var table = []Rule{
	{
		Product: "gke",
		ID:      "default-service-account",
		Short:   "Node pools should not run as the Compute default service account",
		Run:     gkeDefaultServiceAccount,
	},
	{
		Product: "gke",
		ID:      "legacy-monitoring",
		Short:   "Clusters should use cloud monitoring, not the legacy agent",
		Run:     gkeLegacyMonitoring,
	},
	{
		Product: "dataproc",
		ID:      "stale-cluster",
		Short:   "Idle clusters older than the retention window should be deleted",
		Run:     dataprocStaleCluster,
	},
	{
		Product: "lb",
		ID:      "single-health-check-backend",
		Short:   "Backend services should probe more than one backend",
		Run:     lbSingleBackend,
	},
}

// All returns the registered rules, optionally filtered by product.
func All(products ...string) []Rule {
	if len(products) == 0 {
		out := make([]Rule, len(table))
		copy(out, table)
		return out
	}
	want := make(map[string]bool, len(products))
	for _, p := range products {
		want[p] = true
	}
	var out []Rule
	for _, r := range table {
		if want[r.Product] {
			out = append(out, r)
		}
	}
	return out
}

// Products returns the unique product keys with registered rules.
func Products() []string {
	set := make(map[string]struct{})
	for _, r := range table {
		set[r.Product] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Runner executes a set of rules against one provider and aggregates the
// results into a single report.
type Runner struct {
	provider snapshot.Provider
	log      logrus.FieldLogger
}

// NewRunner builds a rule runner.
func NewRunner(provider snapshot.Provider, log logrus.FieldLogger) *Runner {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Runner{provider: provider, log: log.WithField("component", "rules")}
}

// Run executes every rule in order and returns the finalized report.
// Cancellation stops between rules; completed results stand.
func (rn *Runner) Run(ctx context.Context, project string, rules []Rule) *report.Report {
	agg := report.NewAggregator(fmt.Sprintf("lint-%s", project), "lint")
	for _, rule := range rules {
		if ctx.Err() != nil {
			rn.log.WithField("rule", rule.FullID()).Warn("lint cancelled")
			break
		}
		for _, res := range rule.Run(ctx, rn.provider, project) {
			res.StepID = rule.FullID()
			if err := agg.Record(res); err != nil {
				rn.log.WithError(err).Error("dropped rule result")
			}
		}
	}
	return agg.Finalize()
}

// uncertainFetch is the shared degraded-data result for rules.
func uncertainFetch(resourceType string, err error) []report.Result {
	return []report.Result{{
		Resource: resourceType,
		Outcome:  report.Uncertain,
		Detail: report.Detail{
			Reason: fmt.Sprintf("could not retrieve %s data: %v", resourceType, err),
		},
	}}
}
