package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/vmihailenco/msgpack/v5"
)

// NegativeEntry remembers a recent generation failure for a key.
type NegativeEntry struct {
	Error     string    `msgpack:"error"`
	Timestamp time.Time `msgpack:"timestamp"`
}

// CacheNegativeResult records message under neg:{key} for ttl, or the
// configured negative TTL when ttl is not positive. Failures are logged only.
func (s *Store) CacheNegativeResult(ctx context.Context, key, message string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.negativeTTL
	}
	buf, err := msgpack.Marshal(&NegativeEntry{Error: message, Timestamp: s.cfg.now()})
	if err != nil {
		s.log.Error("error encoding negative entry: %s", err)
		return
	}
	nk := cachekey.NegativeKey(key)
	res := do(ctx, s, "negative.set", nk, func(ctx context.Context, c *redis.Client) (struct{}, error) {
		return struct{}{}, c.Set(ctx, nk, buf, ttl).Err()
	})
	if res.IsErr() {
		s.log.Warn("error caching negative result for %s: %s", key, res.Err)
		return
	}
	s.metrics.NegativeWrites.Inc()
}

// GetNegativeEntry returns the negative entry for key, or nil when there is
// none or the store is unavailable.
func (s *Store) GetNegativeEntry(ctx context.Context, key string) *NegativeEntry {
	nk := cachekey.NegativeKey(key)
	raw := do(ctx, s, "negative.get", nk, func(ctx context.Context, c *redis.Client) ([]byte, error) {
		b, err := c.Get(ctx, nk).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	}).OrElse(nil)
	if raw == nil {
		return nil
	}
	var entry NegativeEntry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		s.log.Warn("ignoring undecodable negative entry %s: %s", nk, err)
		return nil
	}
	return &entry
}
