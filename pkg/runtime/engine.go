package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/siftlabs/sift/pkg/params"
	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// Options configures an Engine.
type Options struct {
	Mode         string // real, replay
	ArtifactsDir string // base directory for run artifacts; "" disables them
	Log          logrus.FieldLogger

	// BeforeStep, when set, is consulted before every step. The debugger
	// uses it to pause execution; it runs on the Run goroutine.
	BeforeStep func(step schema.Step) Decision
}

// Decision is a BeforeStep verdict.
type Decision int

const (
	DecisionRun Decision = iota
	DecisionSkip
	DecisionAbort
)

// Engine executes one runbook invocation. It is not reused across runs:
// the tree, context and aggregator carry no identity beyond the run.
type Engine struct {
	rb       *schema.Runbook
	provider snapshot.Provider
	params   *params.Context
	agg      *report.Aggregator
	trace    *TraceWriter
	log      logrus.FieldLogger

	runID     string
	baseDir   string
	mode      string
	startedAt time.Time

	rawParams  map[string]string
	states     map[string]StepState
	counts     StepsSummary
	beforeStep func(step schema.Step) Decision
	results    []report.Result

	// collectors receive a copy of every recorded result while a
	// composite scope is open, so the composite can roll its children up.
	collectors []*[]report.Result
}

// flow steers the tree walk.
type flow int

const (
	flowContinue flow = iota
	flowStopRun
)

// NewEngine builds an engine for one invocation. Caller-supplied values
// are parsed against the runbook's parameter declarations; declared
// defaults fill the gaps. A value that fails to parse is a ConfigError.
// Missing required parameters are not rejected here; the start step
// reports them when the run begins.
func NewEngine(rb *schema.Runbook, provider snapshot.Provider, values map[string]string, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	log = log.WithField("component", "runtime")

	initial := make(map[string]any)
	raw := make(map[string]string)

	for name, def := range rb.Meta.Params {
		if def.Default == "" {
			continue
		}
		v, err := params.ParseValue(def.Type, def.Default)
		if err != nil {
			return nil, Configf("default for parameter %q: %v", name, err)
		}
		initial[name] = v
		raw[name] = def.Default
	}
	for name, val := range values {
		typ := ""
		if def, ok := rb.Meta.Params[name]; ok {
			typ = def.Type
		}
		v, err := params.ParseValue(typ, val)
		if err != nil {
			return nil, Configf("parameter %q: %v", name, err)
		}
		initial[name] = v
		raw[name] = val
	}

	runID := GenerateRunID()
	e := &Engine{
		rb:        rb,
		provider:  provider,
		params:    params.New(initial),
		agg:       report.NewAggregator(runID, rb.Meta.FullName()),
		log:       log,
		runID:     runID,
		mode:      opts.Mode,
		startedAt: time.Now(),
		rawParams:  raw,
		states:     make(map[string]StepState),
		beforeStep: opts.BeforeStep,
	}

	if opts.ArtifactsDir != "" {
		e.baseDir = filepath.Join(opts.ArtifactsDir, runID)
		if err := os.MkdirAll(e.baseDir, 0755); err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
		trace, err := NewTraceWriter(filepath.Join(e.baseDir, "trace.jsonl"), runID)
		if err != nil {
			return nil, err
		}
		e.trace = trace
	}

	return e, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.runID }

// BaseDir returns the run artifacts directory ("" when disabled).
func (e *Engine) BaseDir() string { return e.baseDir }

// Params exposes the execution context (used by the debugger).
func (e *Engine) Params() *params.Context { return e.params }

// Results returns a copy of the results recorded so far.
func (e *Engine) Results() []report.Result {
	out := make([]report.Result, len(e.results))
	copy(out, e.results)
	return out
}

// Run walks the tree and returns the finalized report. A run always
// produces a report; only configuration errors abort earlier.
func (e *Engine) Run(ctx context.Context) *report.Report {
	defer e.trace.Close()

	e.walk(ctx, e.rb.Tree)

	rep := e.agg.Finalize()
	if err := e.writeArtifacts(rep); err != nil {
		e.log.WithError(err).Warn("failed to write run artifacts")
	}
	e.log.WithFields(logrus.Fields{
		"run_id":  e.runID,
		"status":  rep.Status,
		"results": len(rep.Results),
	}).Info("runbook run finished")
	return rep
}

// walk executes a node list in declaration order.
func (e *Engine) walk(ctx context.Context, nodes []schema.StepNode) flow {
	for i, node := range nodes {
		if ctx.Err() != nil {
			// Cancellation is observed between steps: nothing further
			// is scheduled, already-recorded results stand.
			e.log.WithField("step", node.Step.ID).Warn("run cancelled, skipping remaining steps")
			e.markSkipped(nodes[i:], "run cancelled")
			return flowStopRun
		}
		if e.execNode(ctx, node) == flowStopRun {
			e.markSkipped(nodes[i+1:], "short-circuited")
			return flowStopRun
		}
	}
	return flowContinue
}

// execNode runs a single node. Dispatch is a single switch over the
// closed set of step kinds.
func (e *Engine) execNode(ctx context.Context, node schema.StepNode) flow {
	step := node.Step

	if e.beforeStep != nil {
		switch e.beforeStep(step) {
		case DecisionSkip:
			e.markSkipped([]schema.StepNode{node}, "skipped by debugger")
			return flowContinue
		case DecisionAbort:
			return flowStopRun
		}
	}

	e.setState(step, StateRunning, "")

	var f flow
	switch step.Kind {
	case schema.KindStart:
		f = e.execStart(ctx, step)
	case schema.KindGateway:
		f = e.execGateway(ctx, node)
	case schema.KindAutomated:
		e.execAutomated(ctx, step)
		f = flowContinue
	case schema.KindComposite:
		f = e.execComposite(ctx, node, true)
	case schema.KindBundle:
		f = e.execComposite(ctx, node, false)
	case schema.KindEnd:
		e.setState(step, StateCompleted, "")
		return flowStopRun
	default:
		// Unreachable after validation; classified rather than crashed.
		e.record(report.Result{
			StepID:  step.ID,
			Outcome: report.Uncertain,
			Detail:  report.Detail{Reason: fmt.Sprintf("unknown step kind %q", step.Kind)},
		})
		f = flowContinue
	}

	if e.states[step.ID] == StateRunning {
		e.setState(step, StateCompleted, "")
	}

	// Automated steps continue into declared children after their own
	// evaluation (gateway children are handled by branch selection).
	if f == flowContinue && len(node.Steps) > 0 && step.Kind == schema.KindAutomated {
		f = e.walk(ctx, node.Steps)
	}
	return f
}

// record appends a result to the aggregator, any open composite
// collectors, and the trace.
func (e *Engine) record(r report.Result) {
	if err := e.agg.Record(r); err != nil {
		e.log.WithError(err).Error("dropped result")
		return
	}
	e.results = append(e.results, r)
	for _, c := range e.collectors {
		*c = append(*c, r)
	}
	if err := e.trace.Result(r); err != nil {
		e.log.WithError(err).Warn("failed to trace result")
	}
}

// setState transitions a step and traces it.
func (e *Engine) setState(step schema.Step, state StepState, note string) {
	prev := e.states[step.ID]
	e.states[step.ID] = state
	switch state {
	case StateCompleted:
		e.counts.Completed++
		e.counts.Total++
	case StateSkipped:
		if prev != StateSkipped {
			e.counts.Skipped++
			e.counts.Total++
		}
	}
	if err := e.trace.StepState(step.ID, step.Kind, state, note); err != nil {
		e.log.WithError(err).Warn("failed to trace step state")
	}
}

// markSkipped marks a whole sub-tree as never-executed. Skipped steps
// contribute zero results: SKIPPED state means "never evaluated", which
// is distinct from an UNCERTAIN result.
func (e *Engine) markSkipped(nodes []schema.StepNode, note string) {
	for _, node := range nodes {
		if _, done := e.states[node.Step.ID]; !done {
			e.setState(node.Step, StateSkipped, note)
		}
		for _, branch := range node.Branches {
			e.markSkipped(branch.Steps, note)
		}
		e.markSkipped(node.Steps, note)
	}
}

// env flattens the current parameter scopes for predicates and templates.
func (e *Engine) env() map[string]any {
	return e.params.Env()
}

// resourceEnv merges the context env with one resource's attributes.
func (e *Engine) resourceEnv(res snapshot.Resource) map[string]any {
	env := e.env()
	for k, v := range res.Attrs {
		env[k] = v
	}
	env["resource"] = res.FullName()
	env["name"] = res.Name
	return env
}

// writeArtifacts persists run.yaml and report.json under the run dir.
func (e *Engine) writeArtifacts(rep *report.Report) error {
	if e.baseDir == "" {
		return nil
	}
	m := &RunManifest{
		RunID:        e.runID,
		Runbook:      e.rb.Meta.FullName(),
		Mode:         e.mode,
		StartedAt:    e.startedAt.UTC().Format(time.RFC3339),
		EndedAt:      time.Now().UTC().Format(time.RFC3339),
		Status:       rep.Status,
		Params:       e.rawParams,
		StepsSummary: e.counts,
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.baseDir, "run.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	repData, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(e.baseDir, "report.json"), repData, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// sortedParamNames returns declared parameter names in stable order.
func sortedParamNames(defs map[string]*schema.ParamDef) []string {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
