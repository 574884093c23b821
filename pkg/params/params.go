// Package params implements the scoped execution context threaded through
// a runbook run: a stack of key/value frames with classic nested-environment
// semantics. A child scope inherits its parent's bindings, may shadow them,
// and its overrides vanish when the scope is popped.
package params

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/siftlabs/sift/pkg/snapshot"
)

// MissingError reports a parameter absent at the point of use. Steps map
// it to a SKIPPED outcome with a documented reason, never a crash.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("parameter %q is not set", e.Name)
}

// Context is the scoped parameter store for one run. It is mutated only
// by the step currently executing; the interpreter is single-threaded.
type Context struct {
	frames []map[string]any
}

// New creates a context with one root frame holding the initial bindings.
func New(initial map[string]any) *Context {
	root := make(map[string]any, len(initial))
	for k, v := range initial {
		root[k] = v
	}
	return &Context{frames: []map[string]any{root}}
}

// Push opens a child scope, optionally pre-seeded with local overrides.
func (c *Context) Push(overrides map[string]any) {
	frame := make(map[string]any, len(overrides))
	for k, v := range overrides {
		frame[k] = v
	}
	c.frames = append(c.frames, frame)
}

// Pop discards the innermost scope. Popping the root frame is a
// programming error and panics.
func (c *Context) Pop() {
	if len(c.frames) <= 1 {
		panic("params: pop of root scope")
	}
	c.frames = c.frames[:len(c.frames)-1]
}

// Depth returns the number of open scopes.
func (c *Context) Depth() int { return len(c.frames) }

// Set binds a value in the innermost scope.
func (c *Context) Set(name string, value any) {
	c.frames[len(c.frames)-1][name] = value
}

// Lookup resolves a name innermost-scope-first.
func (c *Context) Lookup(name string) (any, bool) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Env flattens the visible bindings into a single map for expression and
// template evaluation. Inner scopes shadow outer ones.
func (c *Context) Env() map[string]any {
	env := make(map[string]any)
	for _, frame := range c.frames {
		for k, v := range frame {
			env[k] = v
		}
	}
	return env
}

// String resolves a parameter as a string.
func (c *Context) String(name string) (string, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return "", &MissingError{Name: name}
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

// Bool resolves a parameter as a bool, parsing string forms.
func (c *Context) Bool(name string) (bool, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return false, &MissingError{Name: name}
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("parameter %q: %w", name, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("parameter %q has type %T, want bool", name, v)
	}
}

// Int resolves a parameter as an int, parsing string forms.
func (c *Context) Int(name string) (int, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return 0, &MissingError{Name: name}
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q has type %T, want int", name, v)
	}
}

// Duration resolves a parameter as a time.Duration.
func (c *Context) Duration(name string) (time.Duration, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return 0, &MissingError{Name: name}
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("parameter %q: %w", name, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("parameter %q has type %T, want duration", name, v)
	}
}

// Range resolves a parameter as a snapshot.TimeRange.
func (c *Context) Range(name string) (snapshot.TimeRange, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return snapshot.TimeRange{}, &MissingError{Name: name}
	}
	switch t := v.(type) {
	case snapshot.TimeRange:
		return t, nil
	case string:
		tr, err := ParseTimeRange(t)
		if err != nil {
			return snapshot.TimeRange{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return tr, nil
	default:
		return snapshot.TimeRange{}, fmt.Errorf("parameter %q has type %T, want timerange", name, v)
	}
}

// ParseValue converts a raw string to the declared parameter type.
// Supported types: string, bool, int, duration, timerange.
func ParseValue(typ, raw string) (any, error) {
	switch typ {
	case "", "string":
		return raw, nil
	case "bool":
		return strconv.ParseBool(raw)
	case "int":
		return strconv.Atoi(raw)
	case "duration":
		return time.ParseDuration(raw)
	case "timerange":
		return ParseTimeRange(raw)
	default:
		return nil, fmt.Errorf("unknown parameter type %q", typ)
	}
}

// ParseTimeRange parses either "last:<duration>" (a window ending now) or
// "<RFC3339>..<RFC3339>".
func ParseTimeRange(raw string) (snapshot.TimeRange, error) {
	if rest, ok := strings.CutPrefix(raw, "last:"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return snapshot.TimeRange{}, fmt.Errorf("parse time range %q: %w", raw, err)
		}
		now := time.Now().UTC()
		return snapshot.TimeRange{Start: now.Add(-d), End: now}, nil
	}
	start, end, ok := strings.Cut(raw, "..")
	if !ok {
		return snapshot.TimeRange{}, fmt.Errorf("time range %q: want \"last:<duration>\" or \"<start>..<end>\"", raw)
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return snapshot.TimeRange{}, fmt.Errorf("parse time range start: %w", err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return snapshot.TimeRange{}, fmt.Errorf("parse time range end: %w", err)
	}
	return snapshot.TimeRange{Start: s, End: e}, nil
}

// IsMissing reports whether err is (or wraps) a MissingError.
func IsMissing(err error) bool {
	var me *MissingError
	return errors.As(err, &me)
}
