// Package config loads and validates the narrative cache configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	localenv "github.com/starsorter/narrative-cache/env"
	"github.com/xhit/go-str2duration/v2"
)

// EvictionPolicies are the maxmemory-policy values the store accepts.
var EvictionPolicies = []string{
	"noeviction",
	"allkeys-lru",
	"allkeys-lfu",
	"allkeys-random",
	"volatile-lru",
	"volatile-lfu",
	"volatile-random",
	"volatile-ttl",
}

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	RedisURL          string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	Prefix            string `env:"CACHE_PREFIX" envDefault:"narr"`
	StaleDays         int    `env:"STALE_DAYS" envDefault:"7"`
	TTLDays           int    `env:"TTL_DAYS" envDefault:"30"`
	MaxValueBytes     int    `env:"CACHE_MAX_VALUE_BYTES" envDefault:"131072"`
	CompressThreshold int    `env:"CACHE_COMPRESS_THRESHOLD" envDefault:"65536"`
	EvictionPolicy    string `env:"CACHE_EVICTION_POLICY" envDefault:"allkeys-lru"`

	EnableStore              bool `env:"ENABLE_REDIS_CACHE"`
	EnableSWR                bool `env:"ENABLE_SWR"`
	EnableStampedeProtection bool `env:"ENABLE_STAMPEDE_PROTECTION"`
	EnableNegativeCache      bool `env:"ENABLE_NEGATIVE_CACHE"`

	EngineVersion string `env:"ENGINE_VERSION" envDefault:"narrative@1.0.0"`
	// PromptHash empty means the prompt text is hashed at startup.
	PromptHash string `env:"PROMPT_HASH"`

	OpTimeout        time.Duration `env:"CACHE_OP_TIMEOUT" envDefault:"1s"`
	ConnectTimeout   time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
	LockTTL          time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockWait         time.Duration `env:"LOCK_WAIT" envDefault:"10s"`
	LockPollInterval time.Duration `env:"LOCK_POLL_INTERVAL" envDefault:"100ms"`
	RefreshLockTTL   time.Duration `env:"REFRESH_LOCK_TTL" envDefault:"30s"`
	NegativeTTL      time.Duration `env:"NEGATIVE_CACHE_TTL" envDefault:"15m"`

	BreakerMaxFailures int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerCooldown    time.Duration `env:"BREAKER_COOLDOWN" envDefault:"60s"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
}

// StaleAfter is StaleDays as a duration.
func (c Config) StaleAfter() time.Duration { return days(c.StaleDays) }

// TTL is TTLDays as a duration.
func (c Config) TTL() time.Duration { return days(c.TTLDays) }

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// FieldError names the environment key that failed to load or validate.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var durationParser = env.ParserFunc(func(v string) (interface{}, error) {
	d, err := str2duration.ParseDuration(v)
	if err != nil {
		return nil, err
	}
	return d, nil
})

// Parse reads Config from environ without validating it. A nil environ
// reads the process environment.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): durationParser,
		},
	}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, translate(err)
	}
	return cfg, nil
}

// translate turns the first env parse failure into a FieldError.
func translate(err error) error {
	if agg, ok := err.(env.AggregateError); ok {
		for _, e := range agg.Errors {
			if pe, ok := e.(env.ParseError); ok {
				return &FieldError{Field: envKey(pe.Name), Reason: pe.Err.Error()}
			}
		}
	}
	return errors.Wrap(err, "parse environment")
}

func envKey(fieldName string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(fieldName)
	if !ok {
		return fieldName
	}
	return f.Tag.Get("env")
}

// Validate checks cross-field invariants. The first violation is returned as
// a *FieldError.
func (c Config) Validate() error {
	if c.TTLDays < 1 {
		return fieldErr("TTL_DAYS", "must be at least 1")
	}
	if c.StaleDays < 1 || c.StaleDays > c.TTLDays {
		return fieldErr("STALE_DAYS", "must be between 1 and TTL_DAYS (%d)", c.TTLDays)
	}
	if c.MaxValueBytes < 1024 {
		return fieldErr("CACHE_MAX_VALUE_BYTES", "must be at least 1024 bytes")
	}
	if c.CompressThreshold < 1024 {
		return fieldErr("CACHE_COMPRESS_THRESHOLD", "must be at least 1024 bytes")
	}
	if c.CompressThreshold > c.MaxValueBytes {
		return fieldErr("CACHE_COMPRESS_THRESHOLD", "cannot exceed CACHE_MAX_VALUE_BYTES (%d)", c.MaxValueBytes)
	}
	if !slices.Contains(EvictionPolicies, c.EvictionPolicy) {
		return fieldErr("CACHE_EVICTION_POLICY", "%q must be one of: %s", c.EvictionPolicy, strings.Join(EvictionPolicies, ", "))
	}
	if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return fieldErr("REDIS_URL", "must start with redis:// or rediss://")
	}
	if c.Prefix == "" {
		return fieldErr("CACHE_PREFIX", "must not be empty")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"CACHE_OP_TIMEOUT", c.OpTimeout},
		{"REDIS_CONNECT_TIMEOUT", c.ConnectTimeout},
		{"LOCK_TTL", c.LockTTL},
		{"LOCK_WAIT", c.LockWait},
		{"LOCK_POLL_INTERVAL", c.LockPollInterval},
		{"REFRESH_LOCK_TTL", c.RefreshLockTTL},
		{"NEGATIVE_CACHE_TTL", c.NegativeTTL},
		{"BREAKER_COOLDOWN", c.BreakerCooldown},
	} {
		if d.val <= 0 {
			return fieldErr(d.key, "must be positive")
		}
	}
	if c.BreakerMaxFailures < 1 {
		return fieldErr("BREAKER_MAX_FAILURES", "must be at least 1")
	}
	return nil
}

// Load parses the process environment, overlaid on the values of envFile when
// it exists, and validates the result. envFile may be empty.
func Load(envFile string) (Config, error) {
	environ := map[string]string{}
	if envFile != "" {
		lines, err := localenv.ParseEnvFile(envFile)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read %s", envFile)
		}
		for _, l := range lines {
			environ[l.Key] = l.Val
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			environ[k] = v
		}
	}
	cfg, err := Parse(environ)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RedactedURL hides the password of the store URL for logging.
func (c Config) RedactedURL() string {
	u, err := url.Parse(c.RedisURL)
	if err != nil || u.User == nil {
		return c.RedisURL
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
