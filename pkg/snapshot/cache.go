package snapshot

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// CacheProvider memoizes Fetch results for the duration of a run so that
// steps sharing a resource query do not refetch it. Log queries are not
// cached: their iterators are non-restartable.
type CacheProvider struct {
	inner Provider
	cache *lru.Cache[string, []Resource]
	log   logrus.FieldLogger
}

// NewCacheProvider wraps inner with an LRU of the given size.
func NewCacheProvider(inner Provider, size int, log logrus.FieldLogger) (*CacheProvider, error) {
	cache, err := lru.New[string, []Resource](size)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &CacheProvider{
		inner: inner,
		cache: cache,
		log:   log.WithField("component", "snapshot_cache"),
	}, nil
}

func cacheKey(project, resourceType, filter string) string {
	return project + "\x00" + resourceType + "\x00" + filter
}

func (p *CacheProvider) Fetch(ctx context.Context, project, resourceType, filter string) ([]Resource, error) {
	key := cacheKey(project, resourceType, filter)
	if res, ok := p.cache.Get(key); ok {
		p.log.WithField("resource_type", resourceType).Debug("snapshot cache hit")
		return res, nil
	}
	res, err := p.inner.Fetch(ctx, project, resourceType, filter)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, res)
	return res, nil
}

func (p *CacheProvider) FetchLogs(ctx context.Context, project, filter string, window TimeRange) (LogIterator, error) {
	return p.inner.FetchLogs(ctx, project, filter, window)
}
