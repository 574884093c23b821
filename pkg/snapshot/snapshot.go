// Package snapshot defines the resource snapshot provider boundary: typed
// resource and log records, the Provider interface, and the retry, cache
// and replay wrappers that sit between the interpreter and a cloud API.
package snapshot

import (
	"context"
	"fmt"
	"time"
)

// TimeRange bounds a log query.
type TimeRange struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end"   json:"end"`
}

// LastHours returns a range ending now and starting n hours earlier.
func LastHours(n int) TimeRange {
	now := time.Now().UTC()
	return TimeRange{Start: now.Add(-time.Duration(n) * time.Hour), End: now}
}

// Resource is one typed cloud resource record. Attributes are the decoded
// API representation; steps reach into them with the typed getters.
type Resource struct {
	Type    string         `yaml:"type"    json:"type"`
	Project string         `yaml:"project" json:"project"`
	Name    string         `yaml:"name"    json:"name"`
	Attrs   map[string]any `yaml:"attrs"   json:"attrs"`
}

// FullName returns the resource identity used in Results.
func (r Resource) FullName() string {
	if r.Project == "" {
		return r.Name
	}
	return fmt.Sprintf("projects/%s/%s/%s", r.Project, r.Type, r.Name)
}

// Attr returns a raw attribute value.
func (r Resource) Attr(key string) (any, bool) {
	v, ok := r.Attrs[key]
	return v, ok
}

// StringAttr returns an attribute as a string ("" when absent or not a string).
func (r Resource) StringAttr(key string) string {
	if v, ok := r.Attrs[key].(string); ok {
		return v
	}
	return ""
}

// BoolAttr returns an attribute as a bool (false when absent).
func (r Resource) BoolAttr(key string) bool {
	if v, ok := r.Attrs[key].(bool); ok {
		return v
	}
	return false
}

// LogEntry is one log record returned by FetchLogs.
type LogEntry struct {
	InsertID  string            `yaml:"insert_id" json:"insert_id"`
	Timestamp time.Time         `yaml:"timestamp" json:"timestamp"`
	Severity  string            `yaml:"severity"  json:"severity"`
	Resource  string            `yaml:"resource"  json:"resource"` // owning resource identity
	Payload   string            `yaml:"payload"   json:"payload"`
	Labels    map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// LogIterator is a lazy, finite, non-restartable sequence of log entries.
type LogIterator interface {
	// Next returns the next entry. ok is false when the sequence is
	// exhausted or an error occurred; check Err afterwards.
	Next() (*LogEntry, bool)
	Err() error
}

// Provider fetches typed snapshots of cloud resource and log state.
// Implementations own their transport, auth and timeouts; each call
// carries the caller-supplied context.
type Provider interface {
	Fetch(ctx context.Context, project, resourceType, filter string) ([]Resource, error)
	FetchLogs(ctx context.Context, project, filter string, window TimeRange) (LogIterator, error)
}

// sliceIterator adapts a materialized slice to LogIterator.
type sliceIterator struct {
	entries []LogEntry
	pos     int
	err     error
}

// NewSliceIterator wraps already-fetched entries as a LogIterator.
func NewSliceIterator(entries []LogEntry) LogIterator {
	return &sliceIterator{entries: entries}
}

func (it *sliceIterator) Next() (*LogEntry, bool) {
	if it.pos >= len(it.entries) {
		return nil, false
	}
	e := &it.entries[it.pos]
	it.pos++
	return e, true
}

func (it *sliceIterator) Err() error { return it.err }
