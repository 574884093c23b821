package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/snapshot"
)

func gkeDefaultServiceAccount(ctx context.Context, provider snapshot.Provider, project string) []report.Result {
	pools, err := provider.Fetch(ctx, project, "gke/nodepool", "")
	if err != nil {
		return uncertainFetch("gke/nodepool", err)
	}
	var out []report.Result
	for _, pool := range pools {
		sa := pool.StringAttr("service_account")
		if sa == "default" || sa == "" {
			out = append(out, report.Result{
				Resource: pool.FullName(),
				Outcome:  report.Failed,
				Detail: report.Detail{
					Reason:      fmt.Sprintf("node pool %s runs as the Compute default service account", pool.Name),
					Remediation: "create a minimally-privileged service account and recreate the node pool with it",
				},
			})
			continue
		}
		out = append(out, report.Result{
			Resource: pool.FullName(),
			Outcome:  report.OK,
			Detail:   report.Detail{Reason: "node pool uses a dedicated service account"},
		})
	}
	return out
}

func gkeLegacyMonitoring(ctx context.Context, provider snapshot.Provider, project string) []report.Result {
	clusters, err := provider.Fetch(ctx, project, "gke/cluster", "")
	if err != nil {
		return uncertainFetch("gke/cluster", err)
	}
	var out []report.Result
	for _, c := range clusters {
		if c.StringAttr("monitoring_service") == "monitoring.googleapis.com" {
			out = append(out, report.Result{
				Resource: c.FullName(),
				Outcome:  report.Failed,
				Detail: report.Detail{
					Reason:      fmt.Sprintf("cluster %s still uses the legacy monitoring agent", c.Name),
					Remediation: "migrate the cluster to cloud monitoring before the legacy agent is turned down",
				},
			})
			continue
		}
		out = append(out, report.Result{
			Resource: c.FullName(),
			Outcome:  report.OK,
			Detail:   report.Detail{Reason: "cluster uses cloud monitoring"},
		})
	}
	return out
}

func dataprocStaleCluster(ctx context.Context, provider snapshot.Provider, project string) []report.Result {
	clusters, err := provider.Fetch(ctx, project, "dataproc/cluster", "")
	if err != nil {
		return uncertainFetch("dataproc/cluster", err)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	var out []report.Result
	for _, c := range clusters {
		created, perr := time.Parse(time.RFC3339, c.StringAttr("create_time"))
		if perr != nil {
			out = append(out, report.Result{
				Resource: c.FullName(),
				Outcome:  report.Uncertain,
				Detail:   report.Detail{Reason: "cluster has no parseable create_time"},
			})
			continue
		}
		if c.StringAttr("status") != "RUNNING" || created.After(cutoff) {
			out = append(out, report.Result{
				Resource: c.FullName(),
				Outcome:  report.OK,
				Detail:   report.Detail{Reason: "cluster is active or within the retention window"},
			})
			continue
		}
		out = append(out, report.Result{
			Resource: c.FullName(),
			Outcome:  report.Failed,
			Detail: report.Detail{
				Reason:      fmt.Sprintf("cluster %s has been running since %s", c.Name, created.Format("2006-01-02")),
				Remediation: "delete idle clusters or enable scheduled deletion",
			},
		})
	}
	return out
}

func lbSingleBackend(ctx context.Context, provider snapshot.Provider, project string) []report.Result {
	services, err := provider.Fetch(ctx, project, "lb/backend-service", "")
	if err != nil {
		return uncertainFetch("lb/backend-service", err)
	}
	var out []report.Result
	for _, s := range services {
		count, ok := s.Attr("backend_count")
		n, isInt := count.(int)
		if !ok || !isInt {
			out = append(out, report.Result{
				Resource: s.FullName(),
				Outcome:  report.Uncertain,
				Detail:   report.Detail{Reason: "backend service has no backend_count attribute"},
			})
			continue
		}
		if n <= 1 {
			out = append(out, report.Result{
				Resource: s.FullName(),
				Outcome:  report.Failed,
				Detail: report.Detail{
					Reason:      fmt.Sprintf("backend service %s has %d backend; health checking cannot distinguish backend from network failure", s.Name, n),
					Remediation: "add at least one more backend instance group or NEG",
				},
			})
			continue
		}
		out = append(out, report.Result{
			Resource: s.FullName(),
			Outcome:  report.OK,
			Detail:   report.Detail{Reason: "backend service probes multiple backends"},
		})
	}
	return out
}
