package logger

import (
	"context"
	"strings"
)

// redisBridge satisfies go-redis's internal Logging interface so the driver's
// own diagnostics flow through a Logger.
type redisBridge struct {
	logger Logger
}

func (r *redisBridge) Printf(ctx context.Context, format string, v ...interface{}) {
	format = strings.TrimSuffix(format, "\n")
	r.logger.Warn(format, v...)
}

// ToRedis returns a value suitable for redis.SetLogger that writes to the provided logger
func ToRedis(logger Logger) interface {
	Printf(ctx context.Context, format string, v ...interface{})
} {
	return &redisBridge{logger: WithComponent(logger, "go-redis")}
}
