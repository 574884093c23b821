package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g. "tree[2].step.check")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// templateVarRe extracts parameter names from {{ .name }} template
// expressions in resource filters.
var templateVarRe = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// ValidateFile performs the full 3-phase validation pipeline on a runbook
// file. Phase 1: structural (strict YAML decode). Phase 2: semantic (JSON
// Schema). Phase 3: domain (tree well-formedness rules).
func ValidateFile(path string) (*Runbook, []*ValidationError) {
	rb, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return rb, Validate(rb)
}

// ValidateBytes runs the pipeline on raw YAML.
func ValidateBytes(data []byte) (*Runbook, []*ValidationError) {
	rb, err := LoadBytes(data)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return rb, Validate(rb)
}

// Validate runs the semantic and domain phases on a decoded runbook.
func Validate(rb *Runbook) []*ValidationError {
	var all []*ValidationError
	all = append(all, validateSemantic(rb)...)
	all = append(all, validateDomain(rb)...)
	return all
}

// validateSemantic validates the runbook against the generated JSON Schema.
func validateSemantic(rb *Runbook) []*ValidationError {
	fail := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
	}

	data, err := json.Marshal(rb)
	if err != nil {
		return fail(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("runbook-v1.json", schemaDoc); err != nil {
		return fail(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("runbook-v1.json")
	if err != nil {
		return fail(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail(fmt.Sprintf("unmarshal document: %v", err))
	}
	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenSchemaErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = fail(err.Error())
		}
		return errs
	}
	return nil
}

// flattenSchemaErrors collects leaf causes from a nested validation error.
func flattenSchemaErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var leaves []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		leaves = append(leaves, flattenSchemaErrors(c)...)
	}
	return leaves
}

// validateDomain enforces the tree well-formedness rules that the JSON
// Schema cannot express.
func validateDomain(rb *Runbook) []*ValidationError {
	v := &domainValidator{
		params: rb.Meta.Params,
		seen:   make(map[string]string),
	}

	if len(rb.Tree) == 0 {
		v.errf("tree", "runbook has no steps")
		return v.errs
	}
	if rb.Tree[0].Step.Kind != KindStart {
		v.errf("tree[0].step.kind", "first step must be kind start, got %q", rb.Tree[0].Step.Kind)
	}

	for i, node := range rb.Tree {
		path := fmt.Sprintf("tree[%d]", i)
		if i > 0 && node.Step.Kind == KindStart {
			v.errf(path+".step.kind", "runbook has more than one start step")
		}
		v.walk(path, node)
	}
	return v.errs
}

type domainValidator struct {
	params map[string]*ParamDef
	seen   map[string]string // step ID -> path
	errs   []*ValidationError
}

func (v *domainValidator) errf(path, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{
		Phase:    "domain",
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
		Severity: "error",
	})
}

func (v *domainValidator) walk(path string, node StepNode) {
	step := node.Step

	if step.ID == "" {
		v.errf(path+".step.id", "step has no id")
	} else if prev, dup := v.seen[step.ID]; dup {
		// Unique IDs keep the tree a DAG: each step executes at most once.
		v.errf(path+".step.id", "duplicate step id %q (also at %s)", step.ID, prev)
	} else {
		v.seen[step.ID] = path
	}

	switch step.Kind {
	case KindStart:
		if step.Resource == nil {
			v.errf(path+".step.resource", "start step must name the top-level resource to validate")
		}
		if len(node.Branches) > 0 {
			v.errf(path+".branches", "start step cannot have branches")
		}
	case KindGateway:
		if len(node.Branches) == 0 {
			v.errf(path+".branches", "gateway step must declare at least one branch")
		}
		if len(node.Steps) > 0 {
			v.errf(path+".steps", "gateway step routes through branches, not plain children")
		}
		if step.Check != "" || step.With != nil {
			v.errf(path+".step.check", "gateway step is routing-only and cannot run a check")
		}
	case KindAutomated:
		v.checkAutomated(path, step)
		if len(node.Branches) > 0 {
			v.errf(path+".branches", "automated step cannot have branches")
		}
	case KindComposite, KindBundle:
		if len(node.Steps) == 0 {
			v.errf(path+".steps", "%s step must have at least one child", step.Kind)
		}
		if len(node.Branches) > 0 {
			v.errf(path+".branches", "%s step runs all children; use a gateway for routing", step.Kind)
		}
	case KindEnd:
		if len(node.Steps) > 0 || len(node.Branches) > 0 {
			v.errf(path, "end step is terminal and cannot have children")
		}
	default:
		v.errf(path+".step.kind", "unknown step kind %q", step.Kind)
	}

	if step.Resource != nil {
		v.checkFilterParams(path+".step.resource.filter", step.Resource.Filter)
	}
	if step.Kind != KindAutomated {
		for name, src := range step.Export {
			if _, err := expr.Compile(src); err != nil {
				v.errf(path+".step.export."+name, "export expression does not compile: %v", err)
			}
		}
	}

	for i, branch := range node.Branches {
		bpath := fmt.Sprintf("%s.branches[%d]", path, i)
		if branch.When == "" {
			v.errf(bpath+".when", "branch has no predicate")
		} else if _, err := expr.Compile(branch.When); err != nil {
			v.errf(bpath+".when", "predicate does not compile: %v", err)
		}
		for j, child := range branch.Steps {
			v.walk(fmt.Sprintf("%s.steps[%d]", bpath, j), child)
		}
	}
	for i, child := range node.Steps {
		v.walk(fmt.Sprintf("%s.steps[%d]", path, i), child)
	}
}

func (v *domainValidator) checkAutomated(path string, step Step) {
	switch step.Check {
	case "":
		v.errf(path+".step.check", "automated step must name a check")
	case "resource-exists":
		if step.Resource == nil {
			v.errf(path+".step.resource", "resource-exists check needs a resource query")
		}
	case "resource-attr":
		if step.Resource == nil {
			v.errf(path+".step.resource", "resource-attr check needs a resource query")
		}
		if step.With == nil || step.With.Predicate == "" {
			v.errf(path+".step.with.predicate", "resource-attr check needs a predicate")
		} else if _, err := expr.Compile(step.With.Predicate); err != nil {
			v.errf(path+".step.with.predicate", "predicate does not compile: %v", err)
		}
	case "log-scan":
		if step.With == nil || len(step.With.Patterns) == 0 {
			v.errf(path+".step.with.patterns", "log-scan check needs a pattern catalogue")
			return
		}
		for i, p := range step.With.Patterns {
			ppath := fmt.Sprintf("%s.step.with.patterns[%d]", path, i)
			if _, err := regexp.Compile(p.Match); err != nil {
				v.errf(ppath+".match", "pattern does not compile: %v", err)
			}
		}
		v.checkFilterParams(path+".step.with.log_filter", step.With.LogFilter)
	default:
		v.errf(path+".step.check", "unknown check %q", step.Check)
	}

	for name, src := range step.Export {
		if _, err := expr.Compile(src); err != nil {
			v.errf(path+".step.export."+name, "export expression does not compile: %v", err)
		}
	}
}

// checkFilterParams verifies every {{ .name }} reference in a filter
// template is a declared parameter or a well-known derived value.
func (v *domainValidator) checkFilterParams(path, filter string) {
	for _, m := range templateVarRe.FindAllStringSubmatch(filter, -1) {
		name := m[1]
		if _, ok := v.params[name]; ok {
			continue
		}
		// Exported values are bound at run time; only warn so a runbook
		// reading a descendant export is not rejected.
		v.errs = append(v.errs, &ValidationError{
			Phase:    "domain",
			Path:     path,
			Message:  fmt.Sprintf("filter references %q which is not a declared parameter (must be exported by an earlier step)", name),
			Severity: "warning",
		})
	}
}

// HasErrors reports whether any entry has severity error (warnings alone
// do not fail validation).
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == "error" {
			return true
		}
	}
	return false
}
