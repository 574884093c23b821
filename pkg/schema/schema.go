// Package schema defines the Go struct types for the runbook YAML schema
// and provides strict parsing and the 3-phase validation pipeline.
package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Runbook is the top-level document defining one parameterized diagnostic
// tree for an operational symptom.
type Runbook struct {
	APIVersion string     `yaml:"apiVersion" json:"apiVersion" jsonschema:"required,enum=diag/v1"`
	Meta       Meta       `yaml:"meta"       json:"meta"       jsonschema:"required"`
	Tree       []StepNode `yaml:"tree"       json:"tree"       jsonschema:"required"`
}

// Meta contains runbook identity, documentation and parameter declarations.
type Meta struct {
	Name        string               `yaml:"name"                  json:"name"    jsonschema:"required"`
	Product     string               `yaml:"product"               json:"product" jsonschema:"required"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Params      map[string]*ParamDef `yaml:"params,omitempty"      json:"params,omitempty"`
}

// FullName returns the registry key, e.g. "gke/cluster-autoscaler".
func (m Meta) FullName() string {
	return m.Product + "/" + m.Name
}

// ParamDef declares one caller-supplied parameter.
type ParamDef struct {
	Type        string `yaml:"type,omitempty"        json:"type,omitempty" jsonschema:"enum=string,enum=bool,enum=int,enum=duration,enum=timerange"`
	Required    bool   `yaml:"required,omitempty"    json:"required,omitempty"`
	Default     string `yaml:"default,omitempty"     json:"default,omitempty"`
	Example     string `yaml:"example,omitempty"     json:"example,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// StepNode is a node in the runbook tree. Composite and bundle steps carry
// their sub-tree in Steps; gateway steps fork through Branches.
type StepNode struct {
	Step     Step       `yaml:"step"               json:"step"`
	Steps    []StepNode `yaml:"steps,omitempty"    json:"steps,omitempty"`
	Branches []Branch   `yaml:"branches,omitempty" json:"branches,omitempty"`
}

// Branch is one gateway route. The first branch whose When predicate is
// true is taken; the sub-trees of the others are skipped.
type Branch struct {
	When  string     `yaml:"when"            json:"when" jsonschema:"required"`
	Label string     `yaml:"label,omitempty" json:"label,omitempty"`
	Steps []StepNode `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Step kinds. The set is closed: the interpreter dispatches on Kind with
// a single switch, one evaluation function per variant.
const (
	KindStart     = "start"
	KindGateway   = "gateway"
	KindAutomated = "automated"
	KindComposite = "composite"
	KindBundle    = "bundle"
	KindEnd       = "end"
)

// Step is one diagnostic step definition.
type Step struct {
	ID    string `yaml:"id"    json:"id"    jsonschema:"required"`
	Kind  string `yaml:"kind"  json:"kind"  jsonschema:"required,enum=start,enum=gateway,enum=automated,enum=composite,enum=bundle,enum=end"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`

	// start and automated steps query resources.
	Resource *ResourceQuery `yaml:"resource,omitempty" json:"resource,omitempty"`

	// automated step configuration.
	Check         string            `yaml:"check,omitempty"           json:"check,omitempty" jsonschema:"enum=resource-exists,enum=resource-attr,enum=log-scan"`
	With          *CheckConfig      `yaml:"with,omitempty"            json:"with,omitempty"`
	Emit          string            `yaml:"emit,omitempty"            json:"emit,omitempty" jsonschema:"enum=on-match,enum=per-resource"`
	Export        map[string]string `yaml:"export,omitempty"          json:"export,omitempty"`
	SkipIfMissing []string          `yaml:"skip_if_missing,omitempty" json:"skip_if_missing,omitempty"`
	Outcomes      *OutcomeTemplates `yaml:"outcomes,omitempty"        json:"outcomes,omitempty"`

	// composite and bundle scope seed: parameter overrides visible only
	// inside the sub-tree.
	Overrides map[string]string `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// ResourceQuery selects the resources a step evaluates. The filter may
// reference parameters with {{ .name }} template expressions; it is
// resolved against the execution context before the provider call.
type ResourceQuery struct {
	Type   string `yaml:"type"             json:"type" jsonschema:"required"`
	Filter string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// CheckConfig configures the built-in checks.
type CheckConfig struct {
	// resource-attr: an expr predicate evaluated per resource. The env
	// holds the resource attributes plus all visible parameters.
	Predicate string `yaml:"predicate,omitempty" json:"predicate,omitempty"`

	// log-scan: log filter (templated), query window, and the ordered
	// pattern catalogue. The first matching pattern per resource wins.
	LogFilter string    `yaml:"log_filter,omitempty" json:"log_filter,omitempty"`
	Window    string    `yaml:"window,omitempty"     json:"window,omitempty"`
	Patterns  []Pattern `yaml:"patterns,omitempty"   json:"patterns,omitempty"`
}

// Pattern is one entry of a log-scan catalogue.
type Pattern struct {
	Match       string `yaml:"match"                 json:"match" jsonschema:"required"`
	Outcome     string `yaml:"outcome"               json:"outcome" jsonschema:"required,enum=ok,enum=failed,enum=uncertain"`
	Reason      string `yaml:"reason,omitempty"      json:"reason,omitempty"`
	Remediation string `yaml:"remediation,omitempty" json:"remediation,omitempty"`
}

// OutcomeTemplates holds the per-resource reason/remediation templates
// bound at evaluation time with instance-specific substitution values.
type OutcomeTemplates struct {
	OKReason             string `yaml:"ok_reason,omitempty"             json:"ok_reason,omitempty"`
	OKRemediation        string `yaml:"ok_remediation,omitempty"        json:"ok_remediation,omitempty"`
	FailedReason         string `yaml:"failed_reason,omitempty"         json:"failed_reason,omitempty"`
	FailedRemediation    string `yaml:"failed_remediation,omitempty"    json:"failed_remediation,omitempty"`
	UncertainReason      string `yaml:"uncertain_reason,omitempty"      json:"uncertain_reason,omitempty"`
	UncertainRemediation string `yaml:"uncertain_remediation,omitempty" json:"uncertain_remediation,omitempty"`
	SkippedReason        string `yaml:"skipped_reason,omitempty"        json:"skipped_reason,omitempty"`
}

// LoadFile reads and parses a runbook YAML file with strict unknown-field
// rejection.
func LoadFile(path string) (*Runbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open runbook: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a runbook from an io.Reader with strict unknown-field
// rejection.
func Load(r io.Reader) (*Runbook, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rb Runbook
	if err := dec.Decode(&rb); err != nil {
		return nil, fmt.Errorf("decode runbook: %w", err)
	}
	return &rb, nil
}

// LoadBytes parses a runbook from raw YAML.
func LoadBytes(data []byte) (*Runbook, error) {
	return Load(bytes.NewReader(data))
}
