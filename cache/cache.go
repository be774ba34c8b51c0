package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/codec"
	"github.com/starsorter/narrative-cache/config"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/starsorter/narrative-cache/profile"
	"github.com/starsorter/narrative-cache/resilience"
	"github.com/starsorter/narrative-cache/sys"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/starsorter/narrative-cache/cache"

// DefaultQueryTimeout bounds every single store round trip.
const DefaultQueryTimeout = time.Second

// Connector hands out the shared store client. *redisconn.Manager satisfies it.
type Connector interface {
	Client(ctx context.Context) (*redis.Client, error)
}

type staticConnector struct {
	client *redis.Client
}

func (s staticConnector) Client(context.Context) (*redis.Client, error) {
	return s.client, nil
}

// Static returns a Connector that always hands out c. The caller owns c.
func Static(c *redis.Client) Connector {
	return staticConnector{client: c}
}

// storeConfig holds the resolved configuration of a Store.
type storeConfig struct {
	prefix          string
	queryTimeout    time.Duration
	ttl             time.Duration
	staleAfter      time.Duration
	negativeTTL     time.Duration
	lockTTL         time.Duration
	lockWait        time.Duration
	pollInterval    time.Duration
	refreshLockTTL  time.Duration
	generateTimeout time.Duration
	engineVersion   string
	promptHash      string
	codec           codec.Codec
	breaker         resilience.CircuitBreakerConfig
	refreshRetry    resilience.RetryConfig
	metrics         *Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// Option configures a Store.
type Option func(*storeConfig)

func defaultConfig() storeConfig {
	return storeConfig{
		prefix:          cachekey.DefaultPrefix,
		queryTimeout:    DefaultQueryTimeout,
		ttl:             30 * 24 * time.Hour,
		staleAfter:      7 * 24 * time.Hour,
		negativeTTL:     15 * time.Minute,
		lockTTL:         30 * time.Second,
		lockWait:        10 * time.Second,
		pollInterval:    100 * time.Millisecond,
		refreshLockTTL:  30 * time.Second,
		generateTimeout: 30 * time.Second,
		codec:           codec.Codec{CompressThreshold: 65536, MaxValueBytes: 131072},
		breaker:         resilience.DefaultCircuitBreakerConfig(),
		refreshRetry:    resilience.DefaultRetryConfig(),
		now:             time.Now,
	}
}

func applyOptions(opts []Option) storeConfig {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithPrefix sets the namespace that DeleteByPattern and Stats are scoped to.
func WithPrefix(p string) Option {
	return func(c *storeConfig) { c.prefix = p }
}

// WithQueryTimeout bounds each store round trip. A call that outlives it
// counts as a breaker failure and resolves to a miss.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *storeConfig) { c.queryTimeout = d }
}

// WithTTL sets the hard expiry of entries.
func WithTTL(d time.Duration) Option {
	return func(c *storeConfig) { c.ttl = d }
}

// WithStaleAfter sets how long after a refresh an entry turns stale.
func WithStaleAfter(d time.Duration) Option {
	return func(c *storeConfig) { c.staleAfter = d }
}

// WithNegativeTTL sets the lifetime of negative entries.
func WithNegativeTTL(d time.Duration) Option {
	return func(c *storeConfig) { c.negativeTTL = d }
}

// WithLocking tunes the stampede guard: the lock expiry, how long a waiter
// polls before generating on its own and the poll interval.
func WithLocking(ttl, wait, poll time.Duration) Option {
	return func(c *storeConfig) {
		c.lockTTL = ttl
		c.lockWait = wait
		c.pollInterval = poll
	}
}

// WithRefreshLockTTL sets the expiry of the background refresh lock. A
// refresh, retries included, is cut off when the lock would expire.
func WithRefreshLockTTL(d time.Duration) Option {
	return func(c *storeConfig) { c.refreshLockTTL = d }
}

// WithGenerateTimeout bounds a generation run on behalf of coalesced callers.
// The shared flight gives up after the lock wait plus d.
func WithGenerateTimeout(d time.Duration) Option {
	return func(c *storeConfig) { c.generateTimeout = d }
}

// WithVersions sets the engine version and prompt hash stamped on new entries.
func WithVersions(engineVersion, promptHash string) Option {
	return func(c *storeConfig) {
		c.engineVersion = engineVersion
		c.promptHash = promptHash
	}
}

// WithCodec sets the compression threshold and size limit.
func WithCodec(cd codec.Codec) Option {
	return func(c *storeConfig) { c.codec = cd }
}

// WithBreaker replaces the circuit breaker configuration. RequestTimeout is
// always taken from WithQueryTimeout.
func WithBreaker(b resilience.CircuitBreakerConfig) Option {
	return func(c *storeConfig) { c.breaker = b }
}

// WithRefreshRetry sets the retry policy of background refreshes.
func WithRefreshRetry(r resilience.RetryConfig) Option {
	return func(c *storeConfig) { c.refreshRetry = r }
}

// WithMetrics records store activity on m.
func WithMetrics(m *Metrics) Option {
	return func(c *storeConfig) { c.metrics = m }
}

// WithTracer sets the tracer used for store spans. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *storeConfig) { c.tracer = t }
}

// WithClock replaces time.Now for freshness decisions and entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) { c.now = now }
}

// OptionsFromConfig maps the process configuration onto Store options.
func OptionsFromConfig(cfg config.Config) []Option {
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.MaxFailures = cfg.BreakerMaxFailures
	breaker.Cooldown = cfg.BreakerCooldown
	return []Option{
		WithPrefix(cfg.Prefix),
		WithQueryTimeout(cfg.OpTimeout),
		WithTTL(cfg.TTL()),
		WithStaleAfter(cfg.StaleAfter()),
		WithNegativeTTL(cfg.NegativeTTL),
		WithLocking(cfg.LockTTL, cfg.LockWait, cfg.LockPollInterval),
		WithRefreshLockTTL(cfg.RefreshLockTTL),
		WithCodec(codec.Codec{CompressThreshold: cfg.CompressThreshold, MaxValueBytes: cfg.MaxValueBytes}),
		WithBreaker(breaker),
	}
}

// Store is the narrative cache on top of a shared store connection. Every
// store round trip goes through one circuit breaker; failures never reach the
// caller and read as misses.
type Store struct {
	conn    Connector
	cfg     storeConfig
	log     logger.Logger
	breaker *resilience.CircuitBreaker
	metrics *Metrics
	tracer  trace.Tracer
	flight  singleflight.Group
	refresh sync.WaitGroup
}

// New returns a Store using conn for every round trip.
func New(conn Connector, log logger.Logger, opts ...Option) *Store {
	cfg := applyOptions(opts)
	s := &Store{
		conn:    conn,
		cfg:     cfg,
		log:     logger.WithComponent(log, "cache"),
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	bc := cfg.breaker
	bc.RequestTimeout = cfg.queryTimeout
	onChange := bc.OnStateChange
	bc.OnStateChange = func(from, to resilience.CircuitBreakerState) {
		s.log.Warn("circuit breaker %s -> %s", from, to)
		s.metrics.BreakerState.Set(float64(to))
		if onChange != nil {
			onChange(from, to)
		}
	}
	s.breaker = resilience.NewCircuitBreaker(bc)
	return s
}

// BreakerState reports the current circuit breaker state.
func (s *Store) BreakerState() resilience.CircuitBreakerState {
	return s.breaker.State()
}

// BreakerStats is a diagnostic snapshot of the circuit breaker.
func (s *Store) BreakerStats() resilience.CircuitBreakerStats {
	return s.breaker.Stats()
}

// Drain waits for in-flight background refreshes to finish.
func (s *Store) Drain() {
	s.refresh.Wait()
}

// NewEntry builds a fresh entry stamped with the store's versions and timings.
func (s *Store) NewEntry(summary string, p profile.Redacted) codec.CachedNarrative {
	return codec.NewEntry(summary, p, codec.EntryOptions{
		EngineVersion: s.cfg.engineVersion,
		PromptHash:    s.cfg.promptHash,
		StaleAfter:    s.cfg.staleAfter,
		TTL:           s.cfg.ttl,
		Now:           s.cfg.now(),
	})
}

// do runs fn against the store through the breaker and the per-call timeout.
// It is the only place store errors are observed; callers collapse the
// Result into their miss value.
func do[T any](ctx context.Context, s *Store, op, key string, fn func(ctx context.Context, c *redis.Client) (T, error)) sys.Result[T] {
	ctx, span := s.tracer.Start(ctx, "cache."+op, trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()
	c, err := s.conn.Client(ctx)
	if err != nil {
		// not counted against the breaker: no round trip happened
		s.fail(span, op, key, err)
		return sys.Err[T](err)
	}
	v, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (T, error) {
		return fn(ctx, c)
	})
	if err != nil {
		s.fail(span, op, key, err)
		return sys.Err[T](err)
	}
	return sys.Ok(v)
}

func (s *Store) fail(span trace.Span, op, key string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	s.metrics.StoreErrors.WithLabelValues(op).Inc()
	s.log.Debug("%s %s failed: %s", op, key, err)
}
