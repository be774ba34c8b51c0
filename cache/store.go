package cache

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/starsorter/narrative-cache/codec"
)

// scanBatch is the COUNT hint of every SCAN issued by DeleteByPattern and Stats.
const scanBatch = 1000

// GetCached returns the entry stored under key. ok is false on a miss and on
// every failure: timeouts, an open breaker and undecodable values all read as
// a miss.
func (s *Store) GetCached(ctx context.Context, key string) (codec.CachedNarrative, bool) {
	raw := do(ctx, s, "get", key, func(ctx context.Context, c *redis.Client) ([]byte, error) {
		b, err := c.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	}).OrElse(nil)
	if raw == nil {
		s.metrics.Lookups.WithLabelValues("miss").Inc()
		return codec.CachedNarrative{}, false
	}
	entry, err := s.cfg.codec.Decode(raw)
	if err != nil {
		s.log.Warn("ignoring undecodable entry %s: %s", key, err)
		s.metrics.StoreErrors.WithLabelValues("decode").Inc()
		s.metrics.Lookups.WithLabelValues("miss").Inc()
		return codec.CachedNarrative{}, false
	}
	s.metrics.Lookups.WithLabelValues("hit").Inc()
	return entry, true
}

// SetCached writes entry under key with the configured TTL, or ttl when it is
// positive. Failures are logged and dropped; it reports whether the write
// happened.
func (s *Store) SetCached(ctx context.Context, key string, entry codec.CachedNarrative, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.cfg.ttl
	}
	entry.Meta.TTLSeconds = int64(ttl / time.Second)
	buf, err := s.cfg.codec.Encode(entry)
	if err != nil {
		s.log.Warn("not caching %s: %s", key, err)
		s.metrics.StoreErrors.WithLabelValues("encode").Inc()
		return false
	}
	res := do(ctx, s, "set", key, func(ctx context.Context, c *redis.Client) (struct{}, error) {
		return struct{}{}, c.Set(ctx, key, buf, ttl).Err()
	})
	if res.IsErr() {
		s.log.Warn("error caching %s: %s", key, res.Err)
		return false
	}
	s.log.Debug("cached %s (%s, %s on the wire, ttl %s)", key, humanize.IBytes(uint64(entry.Meta.SizeBytes)), humanize.IBytes(uint64(len(buf))), ttl)
	return true
}

// DeleteByPattern removes every key matching pattern inside the store's
// namespace and returns how many were deleted. The keyspace is walked with
// SCAN and deletions are pipelined per batch. It returns 0 on any failure.
func (s *Store) DeleteByPattern(ctx context.Context, pattern string) int64 {
	match := s.namespaced(pattern)
	var (
		cursor  uint64
		deleted int64
	)
	for {
		type page struct {
			next    uint64
			deleted int64
		}
		cur := cursor
		res := do(ctx, s, "purge", match, func(ctx context.Context, c *redis.Client) (page, error) {
			keys, next, err := c.Scan(ctx, cur, match, scanBatch).Result()
			if err != nil {
				return page{}, err
			}
			if len(keys) == 0 {
				return page{next: next}, nil
			}
			pipe := c.Pipeline()
			cmds := make([]*redis.IntCmd, 0, len(keys))
			for _, k := range keys {
				cmds = append(cmds, pipe.Del(ctx, k))
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return page{}, err
			}
			var n int64
			for _, cmd := range cmds {
				n += cmd.Val()
			}
			return page{next: next, deleted: n}, nil
		})
		if res.IsErr() {
			s.log.Error("error deleting %s: %s", match, res.Err)
			return 0
		}
		deleted += res.Ok.deleted
		cursor = res.Ok.next
		if cursor == 0 {
			break
		}
	}
	s.log.Info("deleted %d keys matching %s", deleted, match)
	return deleted
}

func (s *Store) namespaced(pattern string) string {
	if s.cfg.prefix == "" || strings.HasPrefix(pattern, s.cfg.prefix+":") {
		return pattern
	}
	return s.cfg.prefix + ":" + pattern
}

// Stats is a snapshot of store activity.
type Stats struct {
	Keys       int64   `json:"keys"`
	MemoryUsed string  `json:"memoryUsed"`
	HitRate    float64 `json:"hitRate"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
}

// Stats reads the store's hit and miss counters and memory usage and counts
// the keys in the namespace. It returns zero counters on any failure.
func (s *Store) Stats(ctx context.Context) Stats {
	info := do(ctx, s, "info", "", func(ctx context.Context, c *redis.Client) (string, error) {
		return c.Info(ctx).Result()
	})
	if info.IsErr() {
		s.log.Error("error reading store stats: %s", info.Err)
		return zeroStats()
	}
	st := parseInfo(info.Ok)

	match := s.namespaced("*")
	var cursor uint64
	for {
		type page struct {
			next  uint64
			count int64
		}
		cur := cursor
		res := do(ctx, s, "count", match, func(ctx context.Context, c *redis.Client) (page, error) {
			keys, next, err := c.Scan(ctx, cur, match, scanBatch).Result()
			return page{next: next, count: int64(len(keys))}, err
		})
		if res.IsErr() {
			s.log.Error("error counting keys: %s", res.Err)
			return zeroStats()
		}
		st.Keys += res.Ok.count
		cursor = res.Ok.next
		if cursor == 0 {
			break
		}
	}
	return st
}

func zeroStats() Stats {
	return Stats{MemoryUsed: "0"}
}

// parseInfo extracts the counters Stats reports from an INFO reply.
func parseInfo(info string) Stats {
	st := zeroStats()
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		name, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok {
			continue
		}
		switch name {
		case "keyspace_hits":
			st.Hits, _ = strconv.ParseInt(val, 10, 64)
		case "keyspace_misses":
			st.Misses, _ = strconv.ParseInt(val, 10, 64)
		case "used_memory_human":
			st.MemoryUsed = val
		}
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
