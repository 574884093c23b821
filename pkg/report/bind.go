package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// bindFuncMap provides template functions available in reason/remediation
// templates. These supplement the built-in Go template functions.
var bindFuncMap = template.FuncMap{
	"hasPrefix":  strings.HasPrefix,
	"hasSuffix":  strings.HasSuffix,
	"contains":   strings.Contains,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"join":       strings.Join,
	"split":      strings.Split,
	"replace":    strings.ReplaceAll,
	"trimPrefix": strings.TrimPrefix,
	"trimSuffix": strings.TrimSuffix,
}

// Bind resolves a reason/remediation template against the detail's named
// substitution fields. Missing keys are errors so a malformed template
// surfaces during tests instead of rendering "<no value>".
func Bind(tmplStr string, fields map[string]string) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	data := make(map[string]string, len(fields))
	for k, v := range fields {
		data[k] = v
	}

	tmpl, err := template.New("bind").Funcs(bindFuncMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse detail template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute detail template: %w", err)
	}
	return buf.String(), nil
}

// BindDetail resolves both templates of a Detail. On template errors the
// raw template text is returned so the renderer always has something to
// show; the error is reported for logging.
func BindDetail(d Detail) (reason, remediation string, err error) {
	reason, err = Bind(d.Reason, d.Fields)
	if err != nil {
		return d.Reason, d.Remediation, err
	}
	remediation, err = Bind(d.Remediation, d.Fields)
	if err != nil {
		return reason, d.Remediation, err
	}
	return reason, remediation, nil
}
