package redisconn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/starsorter/narrative-cache/config"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) record(ev Event, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) has(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, x := range e.events {
		if x == ev {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T) (*miniredis.Miniredis, *Manager, *eventLog, *logger.TestLogger) {
	t.Helper()
	mr := miniredis.RunT(t)
	events := &eventLog{}
	log := logger.NewTestLogger()
	opts := DefaultOptions("redis://" + mr.Addr())
	opts.ConnectTimeout = time.Second
	opts.ReadyTimeout = time.Second
	opts.OnEvent = events.record
	m := New(opts, log)
	t.Cleanup(func() { m.Close() })
	return mr, m, events, log
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, m.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestClientIsLazySingleton(t *testing.T) {
	_, m, events, _ := newTestManager(t)
	assert.False(t, m.IsConnected())

	ctx := context.Background()
	c1, err := m.Client(ctx)
	require.NoError(t, err)
	c2, err := m.Client(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	waitConnected(t, m)
	assert.True(t, events.has(EventConnect))
	assert.True(t, events.has(EventReady))
	assert.NoError(t, c1.Ping(ctx).Err())
}

func TestClientReentrancyGuard(t *testing.T) {
	_, m, _, _ := newTestManager(t)
	m.mu.Lock()
	m.connecting = true
	m.mu.Unlock()

	_, err := m.Client(context.Background())
	assert.True(t, errors.Is(err, ErrConnectInProgress))

	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()
	_, err = m.Client(context.Background())
	assert.NoError(t, err)
}

func TestClientBadURL(t *testing.T) {
	m := New(Options{URL: "redis://host:notaport"}, logger.NewTestLogger())
	_, err := m.Client(context.Background())
	assert.Error(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.connecting, "guard must be released after a failed attempt")
}

func TestCloseClearsSingleton(t *testing.T) {
	_, m, events, _ := newTestManager(t)
	ctx := context.Background()
	c1, err := m.Client(ctx)
	require.NoError(t, err)
	waitConnected(t, m)

	require.NoError(t, m.Close())
	assert.False(t, m.IsConnected())
	assert.True(t, events.has(EventClose))
	assert.Error(t, c1.Ping(ctx).Err())

	c2, err := m.Client(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	waitConnected(t, m)

	// closing twice is harmless
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestReconnectOnReadOnly(t *testing.T) {
	mr, m, events, _ := newTestManager(t)
	ctx := context.Background()
	c1, err := m.Client(ctx)
	require.NoError(t, err)
	waitConnected(t, m)

	mr.SetError("READONLY You can't write against a read only replica.")
	assert.Error(t, c1.Set(ctx, "k", "v", 0).Err())

	assert.Equal(t, int64(1), m.Reconnects())
	assert.True(t, events.has(EventReconnecting))

	c2, err := m.Client(ctx)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)

	mr.SetError("")
	waitConnected(t, m)
	assert.NoError(t, c2.Set(ctx, "k", "v", 0).Err())
}

func TestNoReconnectOnAuthFailure(t *testing.T) {
	mr, m, events, log := newTestManager(t)
	ctx := context.Background()
	c1, err := m.Client(ctx)
	require.NoError(t, err)
	waitConnected(t, m)

	mr.SetError("WRONGPASS invalid username-password pair or user is disabled.")
	assert.Error(t, c1.Get(ctx, "k").Err())

	assert.Equal(t, int64(0), m.Reconnects())
	assert.False(t, events.has(EventReconnecting))
	assert.True(t, log.Contains("ERROR", "WRONGPASS"))

	c2, err := m.Client(ctx)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestStaleGenerationIgnored(t *testing.T) {
	_, m, _, _ := newTestManager(t)
	_, err := m.Client(context.Background())
	require.NoError(t, err)
	waitConnected(t, m)

	m.mu.Lock()
	gen := m.generation
	m.mu.Unlock()

	m.reconnect(gen, errors.New("READONLY"))
	m.reconnect(gen, errors.New("READONLY"))
	assert.Equal(t, int64(1), m.Reconnects())
}

func TestWaitReadyTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := New(Options{URL: "redis://" + addr, ConnectTimeout: 50 * time.Millisecond}, logger.NewTestLogger())
	defer m.Close()
	_, err = m.Client(context.Background())
	require.NoError(t, err)

	err = m.WaitReady(context.Background(), 300*time.Millisecond)
	assert.ErrorContains(t, err, "not ready")
	assert.False(t, m.IsConnected())
}

func TestShouldReconnect(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("READONLY You can't write against a read only replica."), true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{errors.New("read tcp 127.0.0.1:1->127.0.0.1:2: read: connection reset by peer"), true},
		{&net.OpError{Op: "dial", Err: syscall.ETIMEDOUT}, true},
		{errors.New("ETIMEDOUT"), true},
		{context.DeadlineExceeded, false},
		{context.Canceled, false},
		{errors.New("WRONGPASS invalid username-password pair"), false},
		{errors.New("ERR unknown command"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldReconnect(tt.err), "%v", tt.err)
	}
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(errors.New("NOAUTH Authentication required.")))
	assert.True(t, IsAuthError(errors.New("WRONGPASS invalid username-password pair")))
	assert.False(t, IsAuthError(errors.New("READONLY")))
	assert.False(t, IsAuthError(nil))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Parse(map[string]string{"REDIS_URL": "redis://cache:6379", "REDIS_CONNECT_TIMEOUT": "3s"})
	require.NoError(t, err)
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "redis://cache:6379", opts.URL)
	assert.Equal(t, 3*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 10, opts.MaxConnectAttempts)
}
