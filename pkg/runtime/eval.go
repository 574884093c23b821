package runtime

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"
)

// filterFuncMap provides template functions available in resource filter
// templates. These supplement the built-in Go template functions.
var filterFuncMap = template.FuncMap{
	"hasPrefix":  strings.HasPrefix,
	"hasSuffix":  strings.HasSuffix,
	"contains":   strings.Contains,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"replace":    strings.ReplaceAll,
	"trimPrefix": strings.TrimPrefix,
	"trimSuffix": strings.TrimSuffix,
}

// resolveTemplate resolves {{ .param }} expressions in a filter string
// against the flattened context env. Missing keys are errors so a filter
// silently querying the wrong thing cannot happen.
func resolveTemplate(tmplStr string, env map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("filter").Funcs(filterFuncMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse filter template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return "", fmt.Errorf("execute filter template: %w", err)
	}
	return buf.String(), nil
}

// evalPredicate evaluates a boolean expr predicate against the env.
// An empty predicate is always true.
func evalPredicate(src string, env map[string]any) (bool, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return true, nil
	}
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compile predicate %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval predicate %q: %w", src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("predicate %q did not return bool (got %T)", src, out)
	}
	return b, nil
}

// evalExpr evaluates an export expression against the env and returns the
// raw value.
func evalExpr(src string, env map[string]any) (any, error) {
	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", src, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("eval expression %q: %w", src, err)
	}
	return out, nil
}
