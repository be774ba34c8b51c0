package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockState is the outcome of a lock acquisition.
type LockState int

const (
	// LockAcquired means the caller owns the lock.
	LockAcquired LockState = iota
	// LockHeld means another owner holds the lock.
	LockHeld
	// LockUnavailable means the store could not be asked.
	LockUnavailable
)

func (s LockState) String() string {
	switch s {
	case LockAcquired:
		return "acquired"
	case LockHeld:
		return "held"
	default:
		return "unavailable"
	}
}

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is an owned store lock. It expires on its own if never released.
type Lock struct {
	s     *Store
	key   string
	token string
}

// Acquire tries once to take key for ttl with SET NX.
func (s *Store) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, LockState) {
	token := uuid.NewString()
	res := do(ctx, s, "lock", key, func(ctx context.Context, c *redis.Client) (bool, error) {
		return c.SetNX(ctx, key, token, ttl).Result()
	})
	switch {
	case res.IsErr():
		return nil, LockUnavailable
	case !res.Ok:
		return nil, LockHeld
	}
	return &Lock{s: s, key: key, token: token}, LockAcquired
}

// Key is the store key of the lock.
func (l *Lock) Key() string { return l.key }

// Release drops the lock if we still own it and reports whether it did. It
// runs even when ctx is already cancelled.
func (l *Lock) Release(ctx context.Context) bool {
	ctx = context.WithoutCancel(ctx)
	res := do(ctx, l.s, "unlock", l.key, func(ctx context.Context, c *redis.Client) (int64, error) {
		return unlockScript.Run(ctx, c, []string{l.key}, l.token).Int64()
	})
	if res.IsErr() {
		l.s.log.Warn("error releasing %s, it will expire on its own: %s", l.key, res.Err)
		return false
	}
	if res.Ok == 0 {
		l.s.log.Debug("%s expired before release", l.key)
		return false
	}
	return true
}
