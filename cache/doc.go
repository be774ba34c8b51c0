// Package cache stores generated narratives in Redis and decides, per
// request, whether to serve, wait for or produce one.
//
// # Store
//
// A [Store] wraps a [Connector] (normally a *redisconn.Manager) and exposes
// four primitives: [Store.GetCached], [Store.SetCached],
// [Store.DeleteByPattern] and [Store.Stats]. Every round trip runs through a
// single circuit breaker with a per-call timeout ([DefaultQueryTimeout] unless
// set with [WithQueryTimeout]). None of them return errors: a failed or
// rejected read is a miss, a failed write is logged and dropped, a failed
// purge deletes nothing and failed stats are all zero. Callers fall back to
// generation, so a store outage costs latency, never availability.
//
// Values are msgpack envelopes produced by the codec package; summaries larger
// than the compression threshold are gzipped inside the envelope and
// envelopes larger than the size limit are not written.
//
// # Stampede Guard
//
// [Store.WithLock] makes sure that concurrent requests for the same missing
// key generate once:
//
//	entry, src, err := store.WithLock(ctx, key, store.Persisting(key, redacted, generate))
//
// Inside a process the callers share one flight. Across processes the first
// caller takes lock:{key} with SET NX and a token; the others poll the store
// for the entry and try the lock again on every tick, so a holder that
// crashed is replaced once its lock expires. A waiter that gets neither
// within the lock wait generates on its own; the last write wins. Locks are
// released with a compare-and-delete script so a late holder never removes
// its successor's lock.
//
// # Stale-While-Revalidate
//
// [Store.WithSWR] returns fresh entries directly and stale ones immediately,
// refreshing them in a detached goroutine guarded by refresh:{key}. A refresh
// is retried with backoff; if it still fails the stale entry is served until
// its TTL removes it. [Store.Drain] waits for pending refreshes.
//
// The two compose: pass [Store.Guarded] as the generator of WithSWR to guard
// misses and refreshes alike.
//
// # Negative Cache
//
// [Store.CacheNegativeResult] and [Store.GetNegativeEntry] keep a short-lived
// record of a failure under neg:{key}, so known-bad input is rejected without
// another generation attempt.
//
// # Metrics
//
// [Metrics] holds the Prometheus collectors. Pass [NewMetrics] with a
// registerer through [WithMetrics] to export them; by default they are
// created unregistered.
package cache
