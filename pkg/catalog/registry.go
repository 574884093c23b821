package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/schema"
)

// Registry holds the loaded runbooks and provides lookup by full name.
type Registry struct {
	log      logrus.FieldLogger
	runbooks []*schema.Runbook
	byName   map[string]*schema.Runbook
	mu       sync.RWMutex
}

// NewRegistry loads the embedded catalogue into a registry.
func NewRegistry(log logrus.FieldLogger) (*Registry, error) {
	log = log.WithField("component", "catalog")

	runbooks, err := Load()
	if err != nil {
		return nil, fmt.Errorf("loading catalogue: %w", err)
	}

	byName := make(map[string]*schema.Runbook, len(runbooks))
	for _, rb := range runbooks {
		key := rb.Meta.FullName()
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("duplicate runbook %q in catalogue", key)
		}
		byName[key] = rb
	}

	sort.Slice(runbooks, func(i, j int) bool {
		return runbooks[i].Meta.FullName() < runbooks[j].Meta.FullName()
	})

	log.WithField("runbook_count", len(runbooks)).Info("runbook catalogue loaded")

	return &Registry{
		log:      log,
		runbooks: runbooks,
		byName:   byName,
	}, nil
}

// All returns the runbooks sorted by full name.
func (r *Registry) All() []*schema.Runbook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*schema.Runbook, len(r.runbooks))
	copy(result, r.runbooks)
	return result
}

// Get returns a runbook by full name ("product/name").
func (r *Registry) Get(name string) (*schema.Runbook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rb, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown runbook %q; run list to see the catalogue", name)
	}
	return rb, nil
}

// Count returns the number of loaded runbooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.runbooks)
}

// Products returns the unique product keys across the catalogue.
func (r *Registry) Products() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for _, rb := range r.runbooks {
		set[rb.Meta.Product] = struct{}{}
	}
	products := make([]string, 0, len(set))
	for p := range set {
		products = append(products, p)
	}
	sort.Strings(products)
	return products
}
