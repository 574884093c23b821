package runtime

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/siftlabs/sift/pkg/params"
	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// execStart validates required parameters and resolves the anchor
// resource. A missing parameter or absent resource short-circuits the
// run: the report carries a top-level message and zero results.
func (e *Engine) execStart(ctx context.Context, step schema.Step) flow {
	for _, name := range sortedParamNames(e.rb.Meta.Params) {
		def := e.rb.Meta.Params[name]
		if !def.Required {
			continue
		}
		if _, ok := e.params.Lookup(name); !ok {
			msg := fmt.Sprintf("required parameter %q is not set", name)
			if def.Example != "" {
				msg += fmt.Sprintf(" (example: %s)", def.Example)
			}
			e.agg.SetMessage(msg)
			e.setState(step, StateCompleted, "missing parameter")
			return flowStopRun
		}
	}

	if step.Resource == nil {
		return flowContinue
	}

	resources, err := e.fetchResources(ctx, step.Resource)
	switch {
	case err != nil && snapshot.IsTransient(err):
		e.record(report.Result{
			StepID:   step.ID,
			Resource: step.Resource.Type,
			Outcome:  report.Uncertain,
			Detail: report.Detail{
				Reason:      fmt.Sprintf("could not retrieve %s data: %v", step.Resource.Type, err),
				Remediation: "retry once the provider recovers",
			},
		})
		return flowStopRun
	case err != nil && snapshot.IsNotFound(err), err == nil && len(resources) == 0:
		e.agg.SetMessage(fmt.Sprintf(
			"%s matching %q not found; check the parameter values (name or location may be wrong)",
			step.Resource.Type, step.Resource.Filter))
		e.setState(step, StateCompleted, "resource not found")
		return flowStopRun
	case err != nil:
		e.agg.SetMessage(fmt.Sprintf("start step %s: %v", step.ID, err))
		return flowStopRun
	}

	e.applyExports(step, resources[0])
	return flowContinue
}

// execGateway evaluates branch predicates in declaration order and walks
// the first one that holds. All other branches are marked skipped before
// the chosen sub-tree runs, so a trace never shows them as pending.
func (e *Engine) execGateway(ctx context.Context, node schema.StepNode) flow {
	step := node.Step
	env := e.env()

	taken := -1
	for i, branch := range node.Branches {
		ok, err := evalPredicate(branch.When, env)
		if err != nil {
			e.log.WithField("step", step.ID).WithError(err).
				Warnf("branch %d predicate failed, treating as false", i)
			continue
		}
		if ok {
			taken = i
			break
		}
	}

	if taken < 0 {
		for _, branch := range node.Branches {
			e.markSkipped(branch.Steps, "no branch taken")
		}
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail: report.Detail{
				Reason: "no branch condition matched the collected data",
			},
		})
		return flowContinue
	}

	branch := node.Branches[taken]
	label := branch.Label
	if label == "" {
		label = fmt.Sprintf("branch %d", taken)
	}
	e.setState(step, StateCompleted, "took "+label)
	for i, other := range node.Branches {
		if i != taken {
			e.markSkipped(other.Steps, "branch not taken")
		}
	}
	return e.walk(ctx, branch.Steps)
}

// execComposite runs a composite (summarize=true) or bundle
// (summarize=false) sub-tree inside a child parameter scope.
func (e *Engine) execComposite(ctx context.Context, node schema.StepNode, summarize bool) flow {
	step := node.Step

	if f, skipped := e.skipIfMissing(step); skipped {
		e.markSkipped(node.Steps, "parent skipped")
		return f
	}

	overrides, err := e.resolveOverrides(step)
	if err != nil {
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("could not resolve overrides: %v", err)},
		})
		e.markSkipped(node.Steps, "overrides unresolved")
		return flowContinue
	}

	e.params.Push(overrides)
	var children []report.Result
	if summarize {
		e.collectors = append(e.collectors, &children)
	}

	f := e.walk(ctx, node.Steps)

	if summarize {
		e.collectors = e.collectors[:len(e.collectors)-1]
	}
	e.params.Pop()

	if summarize && len(children) > 0 {
		summary := report.RollUp(children)
		failed := 0
		for _, c := range children {
			if c.Outcome == report.Failed {
				failed++
			}
		}
		fields := map[string]string{
			"failed": fmt.Sprintf("%d", failed),
			"total":  fmt.Sprintf("%d", len(children)),
		}
		fallback := fmt.Sprintf("%d of %d checks failed", failed, len(children))
		if summary == report.OK {
			fallback = fmt.Sprintf("all %d checks passed", len(children))
		}
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: summary,
			Detail:  e.bindOutcome(step, summary, fields, fallback),
		})
	}
	return f
}

// execAutomated dispatches one automated step to its check.
func (e *Engine) execAutomated(ctx context.Context, step schema.Step) {
	if _, skipped := e.skipIfMissing(step); skipped {
		return
	}

	switch step.Check {
	case "resource-exists":
		e.checkResourceExists(ctx, step)
	case "resource-attr":
		e.checkResourceAttr(ctx, step)
	case "log-scan":
		e.checkLogScan(ctx, step)
	default:
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("unknown check %q", step.Check)},
		})
	}
}

// skipIfMissing handles the declared skip policy: when any listed
// parameter is unset the step records a single SKIPPED result instead of
// running. Skipping is a successful evaluation, not a defect.
func (e *Engine) skipIfMissing(step schema.Step) (flow, bool) {
	for _, name := range step.SkipIfMissing {
		if _, ok := e.params.Lookup(name); ok {
			continue
		}
		fields := map[string]string{"param": name}
		fallback := fmt.Sprintf("parameter %q is not set; step skipped", name)
		detail := report.Detail{Reason: fallback, Fields: fields}
		if step.Outcomes != nil && step.Outcomes.SkippedReason != "" {
			if bound, err := report.Bind(step.Outcomes.SkippedReason, fields); err == nil {
				detail.Reason = bound
			}
		}
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Skipped,
			Detail:  detail,
		})
		e.setState(step, StateSkipped, "parameter "+name+" missing")
		return flowContinue, true
	}
	return flowContinue, false
}

// fetchResources resolves the filter template and queries the provider.
func (e *Engine) fetchResources(ctx context.Context, q *schema.ResourceQuery) ([]snapshot.Resource, error) {
	filter, err := resolveTemplate(q.Filter, e.env())
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	project, _ := e.params.String("project")
	return e.provider.Fetch(ctx, project, q.Type, filter)
}

// recordFetchFailure classifies a provider error into a single result.
// Transient exhaustion and missing data both degrade to UNCERTAIN: the
// check could not be evaluated, which is not evidence of health.
func (e *Engine) recordFetchFailure(step schema.Step, resourceType string, err error) {
	detail := report.Detail{
		Reason:      fmt.Sprintf("could not retrieve %s data: %v", resourceType, err),
		Remediation: "retry once the provider recovers",
	}
	if snapshot.IsNotFound(err) {
		detail = report.Detail{
			Reason: fmt.Sprintf("%s not found; it may have been deleted since the symptom occurred", resourceType),
		}
	}
	e.record(report.Result{
		StepID:   step.ID,
		Resource: resourceType,
		Outcome:  report.Uncertain,
		Detail:   detail,
	})
}

// checkResourceExists asserts that at least one resource matches the
// query. Absence is the failure this check exists to detect, so an empty
// match is FAILED rather than UNCERTAIN.
func (e *Engine) checkResourceExists(ctx context.Context, step schema.Step) {
	resources, err := e.fetchResources(ctx, step.Resource)
	if err != nil && !snapshot.IsNotFound(err) {
		e.recordFetchFailure(step, step.Resource.Type, err)
		return
	}
	if err != nil || len(resources) == 0 {
		fields := map[string]string{
			"type":   step.Resource.Type,
			"filter": step.Resource.Filter,
		}
		fallback := fmt.Sprintf("no %s matched filter %q", step.Resource.Type, step.Resource.Filter)
		e.record(report.Result{
			StepID:   step.ID,
			Resource: step.Resource.Type,
			Outcome:  report.Failed,
			Detail:   e.bindOutcome(step, report.Failed, fields, fallback),
		})
		return
	}

	if step.Emit == "on-match" {
		e.applyExports(step, resources[0])
		return
	}
	for _, res := range resources {
		fields := e.detailFields(res)
		e.record(report.Result{
			StepID:   step.ID,
			Resource: res.FullName(),
			Outcome:  report.OK,
			Detail:   e.bindOutcome(step, report.OK, fields, fmt.Sprintf("%s exists", res.Name)),
		})
	}
	e.applyExports(step, resources[0])
}

// checkResourceAttr evaluates a predicate against each matched resource.
func (e *Engine) checkResourceAttr(ctx context.Context, step schema.Step) {
	resources, err := e.fetchResources(ctx, step.Resource)
	if err != nil {
		e.recordFetchFailure(step, step.Resource.Type, err)
		return
	}
	if len(resources) == 0 {
		e.record(report.Result{
			StepID:   step.ID,
			Resource: step.Resource.Type,
			Outcome:  report.Uncertain,
			Detail: report.Detail{
				Reason: fmt.Sprintf("%s matching %q not found; it may have been deleted", step.Resource.Type, step.Resource.Filter),
			},
		})
		return
	}

	for _, res := range resources {
		env := e.resourceEnv(res)
		fields := e.detailFields(res)

		holds, err := evalPredicate(step.With.Predicate, env)
		if err != nil {
			e.record(report.Result{
				StepID:   step.ID,
				Resource: res.FullName(),
				Outcome:  report.Uncertain,
				Detail:   e.bindOutcome(step, report.Uncertain, fields, fmt.Sprintf("predicate evaluation failed: %v", err)),
			})
			continue
		}
		if holds {
			if step.Emit != "on-match" {
				e.record(report.Result{
					StepID:   step.ID,
					Resource: res.FullName(),
					Outcome:  report.OK,
					Detail:   e.bindOutcome(step, report.OK, fields, "condition holds"),
				})
			}
			continue
		}
		e.record(report.Result{
			StepID:   step.ID,
			Resource: res.FullName(),
			Outcome:  report.Failed,
			Detail:   e.bindOutcome(step, report.Failed, fields, fmt.Sprintf("condition %q does not hold", step.With.Predicate)),
		})
	}

	e.applyExports(step, resources[0])
}

// checkLogScan scans log entries in timestamp order against the step's
// ordered pattern catalogue. Per resource, the first entry matching any
// pattern concludes it; within one entry the lowest-indexed pattern wins.
func (e *Engine) checkLogScan(ctx context.Context, step schema.Step) {
	var resources []snapshot.Resource
	if step.Resource != nil {
		var err error
		resources, err = e.fetchResources(ctx, step.Resource)
		if err != nil && !snapshot.IsNotFound(err) {
			e.recordFetchFailure(step, step.Resource.Type, err)
			return
		}
	}

	window, err := e.resolveWindow(step.With.Window)
	if err != nil {
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("invalid query window: %v", err)},
		})
		return
	}

	filter, err := resolveTemplate(step.With.LogFilter, e.env())
	if err != nil {
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("resolve log filter: %v", err)},
		})
		return
	}

	compiled := make([]*regexp.Regexp, len(step.With.Patterns))
	for i, pat := range step.With.Patterns {
		re, err := regexp.Compile(pat.Match)
		if err != nil {
			e.record(report.Result{
				StepID:  step.ID,
				Outcome: report.Uncertain,
				Detail:  report.Detail{Reason: fmt.Sprintf("pattern %d does not compile: %v", i, err)},
			})
			return
		}
		compiled[i] = re
	}

	project, _ := e.params.String("project")
	it, err := e.provider.FetchLogs(ctx, project, filter, window)
	if err != nil {
		ident := "logs"
		if step.Resource != nil {
			ident = step.Resource.Type
		}
		e.recordFetchFailure(step, ident, err)
		return
	}

	concluded := make(map[string]bool)
	for entry, ok := it.Next(); ok; entry, ok = it.Next() {
		rid := entry.Resource
		if rid == "" {
			rid = "unknown"
		}
		if concluded[rid] {
			continue
		}
		for i, pat := range step.With.Patterns {
			m := compiled[i].FindStringSubmatch(entry.Payload)
			if m == nil {
				continue
			}
			e.recordPatternMatch(step, pat, compiled[i], m, entry, rid)
			concluded[rid] = true
			break
		}
	}
	if err := it.Err(); err != nil {
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("log query interrupted: %v", err)},
		})
		return
	}

	if step.Emit != "per-resource" {
		return
	}
	if len(resources) == 0 && len(concluded) == 0 {
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail: report.Detail{
				Reason: "no resources matched the filter, nothing to conclude on",
			},
		})
		return
	}
	for _, res := range resources {
		if concluded[res.FullName()] {
			continue
		}
		fields := e.detailFields(res)
		e.record(report.Result{
			StepID:   step.ID,
			Resource: res.FullName(),
			Outcome:  report.OK,
			Detail:   e.bindOutcome(step, report.OK, fields, "no known failure patterns in the scanned logs"),
		})
	}
}

// recordPatternMatch emits the classified result for one concluded
// resource. Named capture groups become Detail fields so the templates
// can reference instance specifics.
func (e *Engine) recordPatternMatch(step schema.Step, pat schema.Pattern, re *regexp.Regexp, match []string, entry *snapshot.LogEntry, rid string) {
	fields := map[string]string{
		"resource": rid,
		"payload":  truncate(entry.Payload, 200),
	}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			fields[name] = match[i]
		}
	}

	outcome := report.Outcome(pat.Outcome)
	detail := report.Detail{Fields: fields}
	detail.Reason = e.bindOrFallback(pat.Reason, fields, truncate(entry.Payload, 120))
	if pat.Remediation != "" {
		detail.Remediation = e.bindOrFallback(pat.Remediation, fields, "")
	}

	e.record(report.Result{
		StepID:   step.ID,
		Resource: rid,
		Outcome:  outcome,
		Detail:   detail,
		Evidence: &report.Evidence{
			Kind:    "log",
			Summary: truncate(entry.Payload, 200),
			Fields: map[string]string{
				"insert_id": entry.InsertID,
				"timestamp": entry.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
				"severity":  entry.Severity,
			},
		},
	})
}

// resolveWindow turns the step's window spec into a concrete TimeRange:
// a parameter name when one is in scope, a literal otherwise, the
// "window" parameter or last 24h when unspecified.
func (e *Engine) resolveWindow(spec string) (snapshot.TimeRange, error) {
	if spec == "" {
		if _, ok := e.params.Lookup("window"); ok {
			return e.params.Range("window")
		}
		return snapshot.LastHours(24), nil
	}
	if _, ok := e.params.Lookup(spec); ok {
		return e.params.Range(spec)
	}
	return params.ParseTimeRange(spec)
}

// resolveOverrides templates a composite's override values against the
// enclosing scope and parses them with the declared parameter types.
func (e *Engine) resolveOverrides(step schema.Step) (map[string]any, error) {
	if len(step.Overrides) == 0 {
		return nil, nil
	}
	env := e.env()
	out := make(map[string]any, len(step.Overrides))
	for name, raw := range step.Overrides {
		resolved, err := resolveTemplate(raw, env)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", name, err)
		}
		typ := ""
		if def, ok := e.rb.Meta.Params[name]; ok {
			typ = def.Type
		}
		v, err := params.ParseValue(typ, resolved)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// applyExports evaluates the step's export expressions against the first
// matched resource and binds them into the current scope.
func (e *Engine) applyExports(step schema.Step, res snapshot.Resource) {
	if len(step.Export) == 0 {
		return
	}
	env := e.resourceEnv(res)
	names := make([]string, 0, len(step.Export))
	for name := range step.Export {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := evalExpr(step.Export[name], env)
		if err != nil {
			e.log.WithField("step", step.ID).WithError(err).
				Warnf("export %q failed, leaving unset", name)
			continue
		}
		e.params.Set(name, v)
	}
}

// bindOutcome picks the step's template for an outcome and binds it,
// falling back to the computed default when no template is declared or
// binding fails.
func (e *Engine) bindOutcome(step schema.Step, o report.Outcome, fields map[string]string, fallbackReason string) report.Detail {
	d := report.Detail{Reason: fallbackReason, Fields: fields}
	if step.Outcomes == nil {
		return d
	}
	var reasonTmpl, remediationTmpl string
	switch o {
	case report.OK:
		reasonTmpl, remediationTmpl = step.Outcomes.OKReason, step.Outcomes.OKRemediation
	case report.Failed:
		reasonTmpl, remediationTmpl = step.Outcomes.FailedReason, step.Outcomes.FailedRemediation
	case report.Uncertain:
		reasonTmpl, remediationTmpl = step.Outcomes.UncertainReason, step.Outcomes.UncertainRemediation
	case report.Skipped:
		reasonTmpl = step.Outcomes.SkippedReason
	}
	if reasonTmpl != "" {
		d.Reason = e.bindOrFallback(reasonTmpl, fields, fallbackReason)
	}
	if remediationTmpl != "" {
		d.Remediation = e.bindOrFallback(remediationTmpl, fields, "")
	}
	return d
}

// bindOrFallback binds a template, logging and falling back on error so
// a bad template degrades the message rather than the run.
func (e *Engine) bindOrFallback(tmpl string, fields map[string]string, fallback string) string {
	bound, err := report.Bind(tmpl, fields)
	if err != nil {
		e.log.WithError(err).Warn("template binding failed")
		return fallback
	}
	return bound
}

// detailFields projects a resource's scalar attributes into template
// substitution values.
func (e *Engine) detailFields(res snapshot.Resource) map[string]string {
	fields := map[string]string{
		"resource": res.FullName(),
		"name":     res.Name,
		"project":  res.Project,
	}
	for k, v := range res.Attrs {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case bool, int, int64, float64:
			fields[k] = fmt.Sprintf("%v", t)
		}
	}
	return fields
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
