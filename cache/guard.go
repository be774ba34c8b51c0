package cache

import (
	"context"
	"time"

	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/codec"
	"github.com/starsorter/narrative-cache/profile"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GenerateFunc produces the entry for a key and persists it. prev is the
// existing entry being replaced, nil on a miss.
type GenerateFunc func(ctx context.Context, prev *codec.CachedNarrative) (codec.CachedNarrative, error)

// TextFunc produces narrative text.
type TextFunc func(ctx context.Context) (string, error)

// Source tells where a returned entry came from.
type Source int

const (
	// SourceGenerated means the caller's own generation produced it.
	SourceGenerated Source = iota
	// SourceFresh means it was read from the store before its stale deadline.
	SourceFresh
	// SourceStale means it was read past its stale deadline; a refresh was triggered.
	SourceStale
	// SourceCoalesced means a concurrent generation for the same key produced it.
	SourceCoalesced
)

func (s Source) String() string {
	switch s {
	case SourceGenerated:
		return "generated"
	case SourceFresh:
		return "fresh"
	case SourceStale:
		return "stale"
	case SourceCoalesced:
		return "coalesced"
	default:
		return "unknown"
	}
}

// Cached reports whether the entry was served from the store.
func (s Source) Cached() bool {
	return s != SourceGenerated
}

// Persisting wraps text into a GenerateFunc that builds an entry from its
// output and writes it under key. A refresh keeps prev's creation time.
func (s *Store) Persisting(key string, p profile.Redacted, text TextFunc) GenerateFunc {
	return func(ctx context.Context, prev *codec.CachedNarrative) (codec.CachedNarrative, error) {
		summary, err := text(ctx)
		if err != nil {
			return codec.CachedNarrative{}, err
		}
		var entry codec.CachedNarrative
		if prev != nil {
			entry = prev.Refreshed(summary, s.cfg.now(), s.cfg.staleAfter)
		} else {
			entry = s.NewEntry(summary, p)
		}
		// last write wins when a lock wait fell back to direct generation
		s.SetCached(ctx, key, entry, 0)
		return entry, nil
	}
}

type flightResult struct {
	entry  codec.CachedNarrative
	source Source
}

// WithLock returns the fresh entry for key or generates it, making sure at
// most one generation per key runs at a time. Callers in this process share
// one flight; across processes a store lock at lock:{key} elects the
// generator and everyone else polls the store for its result. A waiter that
// sees neither the result nor a free lock within the lock wait generates on
// its own.
func (s *Store) WithLock(ctx context.Context, key string, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	if e, ok := s.GetCached(ctx, key); ok && e.IsFresh(s.cfg.now()) {
		return e, SourceFresh, nil
	}
	return s.withLock(ctx, key, nil, gen)
}

// Guarded wraps gen with the stampede guard of WithLock, skipping the initial
// store read.
func (s *Store) Guarded(key string, gen GenerateFunc) GenerateFunc {
	return func(ctx context.Context, prev *codec.CachedNarrative) (codec.CachedNarrative, error) {
		e, _, err := s.withLock(ctx, key, prev, gen)
		return e, err
	}
}

// withLock joins the in-process flight for key. The flight runs detached from
// any single caller, bounded by the lock wait plus the generation timeout, so
// a caller that goes away only abandons its own wait.
func (s *Store) withLock(ctx context.Context, key string, prev *codec.CachedNarrative, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	ch := s.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.lockWait+s.cfg.generateTimeout)
		defer cancel()
		e, src, err := s.lockAndGenerate(fctx, key, prev, gen)
		return flightResult{entry: e, source: src}, err
	})
	select {
	case <-ctx.Done():
		return codec.CachedNarrative{}, SourceGenerated, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return codec.CachedNarrative{}, SourceGenerated, res.Err
		}
		r := res.Val.(flightResult)
		return r.entry, r.source, nil
	}
}

func (s *Store) lockAndGenerate(ctx context.Context, key string, prev *codec.CachedNarrative, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	lockKey := cachekey.LockKey(key)
	lock, state := s.Acquire(ctx, lockKey, s.cfg.lockTTL)
	switch state {
	case LockAcquired:
		return s.generateLocked(ctx, lock, key, prev, gen)
	case LockUnavailable:
		s.log.Debug("lock %s unavailable, generating without it", lockKey)
		return s.generate(ctx, "unlocked", key, prev, gen)
	}

	wctx, span := s.tracer.Start(ctx, "cache.lock.wait", trace.WithAttributes(attribute.String("cache.key", key)))
	started := time.Now()
	deadline := time.NewTimer(s.cfg.lockWait)
	defer deadline.Stop()
	poll := time.NewTicker(s.cfg.pollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			span.End()
			return codec.CachedNarrative{}, SourceGenerated, ctx.Err()
		case <-deadline.C:
			span.SetStatus(codes.Error, "lock wait timed out")
			span.End()
			s.metrics.LockTimeouts.Inc()
			s.log.Warn("waited %s for %s, falling back to direct generation", s.cfg.lockWait, lockKey)
			return s.generate(ctx, "fallback", key, prev, gen)
		case <-poll.C:
			if e, ok := s.GetCached(wctx, key); ok && e.IsFresh(s.cfg.now()) {
				span.End()
				s.metrics.LockWait.Observe(time.Since(started).Seconds())
				return e, SourceCoalesced, nil
			}
			if lock, state = s.Acquire(wctx, lockKey, s.cfg.lockTTL); state == LockAcquired {
				span.End()
				s.metrics.LockWait.Observe(time.Since(started).Seconds())
				return s.generateLocked(ctx, lock, key, prev, gen)
			}
		}
	}
}

// generateLocked runs gen while holding lock. The store is checked again
// first since the previous holder may have just written the entry.
func (s *Store) generateLocked(ctx context.Context, lock *Lock, key string, prev *codec.CachedNarrative, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	defer lock.Release(ctx)
	if cur, ok := s.GetCached(ctx, key); ok {
		if cur.IsFresh(s.cfg.now()) {
			return cur, SourceCoalesced, nil
		}
		if prev == nil {
			prev = &cur
		}
	}
	return s.generate(ctx, "locked", key, prev, gen)
}

func (s *Store) generate(ctx context.Context, path, key string, prev *codec.CachedNarrative, gen GenerateFunc) (codec.CachedNarrative, Source, error) {
	ctx, span := s.tracer.Start(ctx, "cache.generate", trace.WithAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.path", path),
	))
	defer span.End()
	s.metrics.Generations.WithLabelValues(path).Inc()
	e, err := gen(ctx, prev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return codec.CachedNarrative{}, SourceGenerated, err
	}
	return e, SourceGenerated, nil
}
