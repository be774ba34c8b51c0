package redisconn

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/starsorter/narrative-cache/config"
)

// PolicyStatus is the outcome of ValidateEvictionPolicy.
type PolicyStatus string

const (
	// PolicyUnknown means the policy could not be read.
	PolicyUnknown PolicyStatus = "unknown"
	// PolicyMatched means the store already uses the desired policy.
	PolicyMatched PolicyStatus = "matched"
	// PolicyUpdated means the store accepted the desired policy.
	PolicyUpdated PolicyStatus = "updated"
	// PolicyMismatch means the store refused the change, typical of managed offerings.
	PolicyMismatch PolicyStatus = "mismatch"
)

const maxMemoryPolicy = "maxmemory-policy"

// ValidateEvictionPolicy compares the store's maxmemory-policy with desired and
// tries to set it when they differ. It only logs; it never fails startup.
func (m *Manager) ValidateEvictionPolicy(ctx context.Context, desired string) PolicyStatus {
	c, err := m.Client(ctx)
	if err != nil {
		m.log.Error("error validating eviction policy: %s", err)
		return PolicyUnknown
	}
	res, err := c.ConfigGet(ctx, maxMemoryPolicy).Result()
	if err != nil {
		m.log.Error("error validating eviction policy: %s", err)
		return PolicyUnknown
	}
	current, ok := res[maxMemoryPolicy]
	if !ok || current == "" {
		m.log.Warn("unable to retrieve %s", maxMemoryPolicy)
		return PolicyUnknown
	}
	if current == desired {
		m.log.Info("eviction policy is correctly set to %s", current)
		return PolicyMatched
	}
	m.log.Warn("eviction policy mismatch. current: %s, recommended: %s", current, desired)
	if err := c.ConfigSet(ctx, maxMemoryPolicy, desired).Err(); err != nil {
		m.log.Warn("cannot set eviction policy (likely a managed store), configure %s=%s with your provider: %s", maxMemoryPolicy, desired, err)
		return PolicyMismatch
	}
	m.log.Info("set eviction policy to %s", desired)
	return PolicyUpdated
}

const (
	smokeKey   = "test:startup:ping"
	smokeValue = "pong"
)

// SmokeTest runs SET, GET and DEL against a scratch key.
func (m *Manager) SmokeTest(ctx context.Context) error {
	c, err := m.Client(ctx)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, smokeKey, smokeValue, 10*time.Second).Err(); err != nil {
		return errors.Wrap(err, "redis operations test failed: set")
	}
	got, err := c.Get(ctx, smokeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "redis operations test failed: get")
	}
	if got != smokeValue {
		return errors.Newf("redis operations test failed: expected %s, got %q", smokeValue, got)
	}
	if err := c.Del(ctx, smokeKey).Err(); err != nil {
		return errors.Wrap(err, "redis operations test failed: del")
	}
	m.log.Debug("basic operations test passed")
	return nil
}

// OptionsFromConfig maps the loaded configuration onto connection options.
func OptionsFromConfig(cfg config.Config) Options {
	opts := DefaultOptions(cfg.RedisURL)
	opts.ConnectTimeout = cfg.ConnectTimeout
	return opts
}

// Initialize logs the sanitized configuration, waits for readiness, checks
// the eviction policy and runs a smoke test. A non-nil error means the store
// is degraded; callers log it and keep serving through fallbacks.
func (m *Manager) Initialize(ctx context.Context, cfg config.Config) error {
	if !cfg.EnableStore {
		m.log.Info("cache disabled (ENABLE_REDIS_CACHE=false)")
		return nil
	}
	m.log.Info("initializing connection to %s", cfg.RedactedURL())
	m.log.Info("prefix: %s, stale after: %d days, ttl: %d days", cfg.Prefix, cfg.StaleDays, cfg.TTLDays)
	m.log.Info("max value size: %s, compression threshold: %s",
		humanize.IBytes(uint64(cfg.MaxValueBytes)), humanize.IBytes(uint64(cfg.CompressThreshold)))

	if _, err := m.Client(ctx); err != nil {
		return m.initFailed(err)
	}
	if err := m.WaitReady(ctx, m.opts.ReadyTimeout); err != nil {
		return m.initFailed(err)
	}
	m.ValidateEvictionPolicy(ctx, cfg.EvictionPolicy)
	if err := m.SmokeTest(ctx); err != nil {
		return m.initFailed(err)
	}
	m.log.Info("initialization complete")
	return nil
}

func (m *Manager) initFailed(err error) error {
	m.log.Error("initialization failed: %s", err)
	m.log.Warn("cache is enabled but the connection failed, falling back to direct generation")
	return errors.Wrap(err, "initialize redis")
}
