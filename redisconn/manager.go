// Package redisconn owns the process-wide store connection: lazy creation,
// readiness tracking, reconnection on transient failures and lifecycle events.
package redisconn

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/starsorter/narrative-cache/resilience"
)

// ErrConnectInProgress is returned by Client while another caller is still
// building the connection. It is not a retry signal.
var ErrConnectInProgress = errors.New("redis connection already in progress")

// ErrClosed is returned by WaitReady after Close.
var ErrClosed = errors.New("redis connection closed")

// Event is a connection lifecycle transition. Events are informational only.
type Event string

const (
	EventConnect      Event = "connect"
	EventReady        Event = "ready"
	EventError        Event = "error"
	EventClose        Event = "close"
	EventReconnecting Event = "reconnecting"
)

// Options configure a Manager.
type Options struct {
	// URL is a redis:// or rediss:// URL.
	URL string
	// ConnectTimeout bounds each dial.
	ConnectTimeout time.Duration
	// MaxConnectAttempts is how many readiness probes run before giving up.
	MaxConnectAttempts int
	// MaxRetriesPerRequest is handed to the driver.
	MaxRetriesPerRequest int
	// ReadyTimeout bounds how long Initialize waits for the first successful probe.
	ReadyTimeout time.Duration
	// OnEvent, when set, observes every lifecycle event.
	OnEvent func(ev Event, err error)
}

// DefaultOptions are the connection defaults for url.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		ConnectTimeout:       10 * time.Second,
		MaxConnectAttempts:   10,
		MaxRetriesPerRequest: 3,
		ReadyTimeout:         5 * time.Second,
	}
}

// Manager hands out a single shared *redis.Client.
type Manager struct {
	opts Options
	log  logger.Logger

	mu         sync.Mutex
	client     *redis.Client
	connecting bool
	generation uint64
	cancel     context.CancelFunc

	ready      atomic.Bool
	reconnects atomic.Int64
}

// New returns a Manager. No connection is made until Client is called.
func New(opts Options, log logger.Logger) *Manager {
	def := DefaultOptions(opts.URL)
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.MaxConnectAttempts <= 0 {
		opts.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = def.ReadyTimeout
	}
	if opts.MaxRetriesPerRequest == 0 {
		opts.MaxRetriesPerRequest = def.MaxRetriesPerRequest
	}
	return &Manager{
		opts: opts,
		log:  logger.WithComponent(log, "redis"),
	}
}

// Client returns the shared client, creating it on first use. Creation does
// not wait for the server; readiness is probed in the background.
func (m *Manager) Client(ctx context.Context) (*redis.Client, error) {
	m.mu.Lock()
	if m.client != nil {
		c := m.client
		m.mu.Unlock()
		return c, nil
	}
	if m.connecting {
		m.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	m.connecting = true
	m.mu.Unlock()

	c, err := m.newClient()

	m.mu.Lock()
	m.connecting = false
	if err == nil {
		m.install(c)
	}
	m.mu.Unlock()
	if err != nil {
		m.emit(EventError, err)
		return nil, err
	}
	return c, nil
}

// install makes c the current client and starts its readiness probe. m.mu is held.
func (m *Manager) install(c *redis.Client) {
	m.generation++
	gen := m.generation
	c.AddHook(&lifecycleHook{m: m, generation: gen})
	probeCtx, cancel := context.WithCancel(context.Background())
	m.client = c
	m.cancel = cancel
	m.ready.Store(false)
	go m.probe(probeCtx, c, gen)
}

func (m *Manager) newClient() (*redis.Client, error) {
	ro, err := redis.ParseURL(m.opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	ro.DialTimeout = m.opts.ConnectTimeout
	ro.MaxRetries = m.opts.MaxRetriesPerRequest
	ro.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		m.emit(EventConnect, nil)
		return nil
	}
	return redis.NewClient(ro), nil
}

// probe pings c until it answers, backing off linearly up to 3s per attempt.
func (m *Manager) probe(ctx context.Context, c *redis.Client, gen uint64) {
	cfg := resilience.RetryConfig{
		MaxRetries:     m.opts.MaxConnectAttempts - 1,
		AttemptTimeout: m.opts.ConnectTimeout,
		Backoff: func(retry int) time.Duration {
			return min(time.Duration(retry)*100*time.Millisecond, 3*time.Second)
		},
		RetryableErrors: func(err error) bool {
			return resilience.DefaultRetryableErrors(err) && !IsAuthError(err)
		},
		OnRetry: func(retry int, delay time.Duration, err error) {
			m.log.Debug("retry attempt %d, waiting %s: %s", retry, delay, err)
		},
	}
	err := resilience.Retry(ctx, cfg, func(ctx context.Context) error {
		return c.Ping(ctx).Err()
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Error("giving up connecting after %d attempts: %s", m.opts.MaxConnectAttempts, err)
		return
	}
	m.mu.Lock()
	current := m.generation == gen
	m.mu.Unlock()
	if current {
		m.ready.Store(true)
		m.emit(EventReady, nil)
	}
}

// IsConnected reports whether the current client has answered a probe. It
// never blocks on the network.
func (m *Manager) IsConnected() bool {
	return m.ready.Load()
}

// Reconnects is the number of client swaps caused by transient errors.
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// WaitReady polls IsConnected every 100ms until it is true or timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if m.IsConnected() {
			return nil
		}
		m.mu.Lock()
		closed := m.client == nil && !m.connecting
		m.mu.Unlock()
		if closed {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.Newf("redis not ready after %s", timeout)
		case <-tick.C:
		}
	}
}

// Close shuts the client down and clears it so the next Client call connects
// again.
func (m *Manager) Close() error {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.generation++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.ready.Store(false)
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	err := c.Close()
	m.emit(EventClose, nil)
	m.log.Info("connection closed gracefully")
	return err
}

// observe is called with every command error of client generation gen. Only
// a client that has been ready is swapped; a fresh one is still being probed.
func (m *Manager) observe(gen uint64, err error) {
	switch {
	case IsAuthError(err):
		m.emit(EventError, err)
	case ShouldReconnect(err):
		m.emit(EventError, err)
		if m.ready.Load() {
			m.reconnect(gen, err)
		}
	}
}

// reconnect replaces the client of generation gen with a fresh one. Stale
// generations are ignored so a burst of errors causes one swap.
func (m *Manager) reconnect(gen uint64, cause error) {
	m.mu.Lock()
	if m.client == nil || m.generation != gen {
		m.mu.Unlock()
		return
	}
	next, err := m.newClient()
	if err != nil {
		m.mu.Unlock()
		m.emit(EventError, err)
		return
	}
	old := m.client
	if m.cancel != nil {
		m.cancel()
	}
	m.install(next)
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.log.Info("reconnecting due to error: %s", cause)
	m.emit(EventReconnecting, cause)
	go old.Close()
}

func (m *Manager) emit(ev Event, err error) {
	switch ev {
	case EventError:
		m.log.Error("connection error: %s", err)
	case EventConnect:
		m.log.Debug("connected")
	case EventReady:
		m.log.Info("ready to accept commands")
	case EventClose:
		m.log.Debug("connection closed")
	case EventReconnecting:
		m.log.Warn("reconnecting")
	}
	if m.opts.OnEvent != nil {
		m.opts.OnEvent(ev, err)
	}
}

// ShouldReconnect reports whether err belongs to the transient classes that
// warrant a fresh client: read-only replica, connection reset and timeouts.
func ShouldReconnect(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"READONLY", "ECONNRESET", "ETIMEDOUT", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is a persistent authentication failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"NOAUTH", "WRONGPASS", "invalid password", "invalid username-password"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

type lifecycleHook struct {
	m          *Manager
	generation uint64
}

var _ redis.Hook = (*lifecycleHook)(nil)

func (h *lifecycleHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.m.emit(EventError, err)
		}
		return conn, err
	}
}

func (h *lifecycleHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			h.m.observe(h.generation, err)
		}
		return err
	}
}

func (h *lifecycleHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			h.m.observe(h.generation, err)
		}
		return err
	}
}
