package snapshot

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryProvider wraps another Provider with bounded retries and
// exponential backoff on transient failures. Non-transient errors
// (not-found, context cancellation) pass through immediately.
type RetryProvider struct {
	inner    Provider
	attempts int
	backoff  time.Duration
	log      logrus.FieldLogger
}

// NewRetryProvider wraps inner with the given retry budget. attempts is
// the total number of tries; backoff doubles after each failure.
func NewRetryProvider(inner Provider, attempts int, backoff time.Duration, log logrus.FieldLogger) *RetryProvider {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryProvider{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		log:      log.WithField("component", "snapshot_retry"),
	}
}

func (p *RetryProvider) Fetch(ctx context.Context, project, resourceType, filter string) ([]Resource, error) {
	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		res, err := p.inner.Fetch(ctx, project, resourceType, filter)
		if err == nil {
			return res, nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < p.attempts {
			p.log.WithFields(logrus.Fields{
				"resource_type": resourceType,
				"attempt":       attempt,
			}).WithError(err).Debug("transient fetch error, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
			delay *= 2
		}
	}
	return nil, lastErr
}

func (p *RetryProvider) FetchLogs(ctx context.Context, project, filter string, window TimeRange) (LogIterator, error) {
	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		it, err := p.inner.FetchLogs(ctx, project, filter, window)
		if err == nil {
			return it, nil
		}
		if !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < p.attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, lastErr
			}
			delay *= 2
		}
	}
	return nil, lastErr
}
