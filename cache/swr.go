package cache

import (
	"context"
	"time"

	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/codec"
	"github.com/starsorter/narrative-cache/resilience"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WithSWR serves key from the store when possible. A miss runs gen and
// returns its result. A fresh entry is returned as is. A stale entry is
// returned immediately and refreshed in the background, at most once per key
// at a time across every process sharing the store.
func (s *Store) WithSWR(ctx context.Context, key string, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	entry, ok := s.GetCached(ctx, key)
	if !ok {
		e, _, err := s.generate(ctx, "miss", key, nil, gen)
		return e, SourceGenerated, err
	}
	if entry.IsFresh(s.cfg.now()) {
		return entry, SourceFresh, nil
	}
	s.metrics.Lookups.WithLabelValues("stale").Inc()
	s.refreshInBackground(ctx, key, entry, gen)
	return entry, SourceStale, nil
}

// refreshInBackground regenerates a stale entry without holding up the
// reader. Failures are logged; the stale entry stays servable until it expires.
func (s *Store) refreshInBackground(ctx context.Context, key string, stale codec.CachedNarrative, gen GenerateFunc) {
	ctx = context.WithoutCancel(ctx)
	s.refresh.Add(1)
	go func() {
		defer s.refresh.Done()
		ctx, span := s.tracer.Start(ctx, "cache.refresh", trace.WithAttributes(attribute.String("cache.key", key)))
		defer span.End()

		// the refresh must finish before the lock can expire under it
		deadline := time.Now().Add(s.cfg.refreshLockTTL)
		lock, state := s.Acquire(ctx, cachekey.RefreshKey(key), s.cfg.refreshLockTTL)
		if state != LockAcquired {
			s.metrics.Refreshes.WithLabelValues("skipped").Inc()
			s.log.Trace("refresh of %s skipped, lock %s", key, state)
			return
		}
		defer lock.Release(ctx)

		// another refresher may have finished between our read and the lock
		if cur, ok := s.GetCached(ctx, key); ok && cur.IsFresh(s.cfg.now()) {
			s.metrics.Refreshes.WithLabelValues("skipped").Inc()
			return
		}

		retry := s.cfg.refreshRetry
		retry.OnRetry = func(n int, delay time.Duration, err error) {
			s.log.Debug("refresh of %s failed, retry %d in %s: %s", key, n, delay, err)
		}
		rctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		err := resilience.Retry(rctx, retry, func(ctx context.Context) error {
			s.metrics.Generations.WithLabelValues("refresh").Inc()
			_, err := gen(ctx, &stale)
			return err
		})
		if err != nil {
			span.RecordError(err)
			s.metrics.Refreshes.WithLabelValues("failed").Inc()
			s.log.Warn("background refresh of %s failed, serving stale: %s", key, err)
			return
		}
		s.metrics.Refreshes.WithLabelValues("ok").Inc()
		s.log.Debug("refreshed %s", key)
	}()
}
