// Package narrative answers narrative requests from the cache when it can
// and from the generator when it must, and never fails: every error path ends
// in a templated narrative.
package narrative

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/starsorter/narrative-cache/cache"
	"github.com/starsorter/narrative-cache/cachekey"
	"github.com/starsorter/narrative-cache/codec"
	"github.com/starsorter/narrative-cache/config"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/starsorter/narrative-cache/profile"
	"github.com/starsorter/narrative-cache/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Response is what callers of GetNarrative receive.
type Response struct {
	Summary string `json:"summary"`
	Cached  bool   `json:"cached"`
}

// Options are the feature switches and key inputs of a Service.
type Options struct {
	EnableStore    bool
	EnableSWR      bool
	EnableStampede bool
	EnableNegative bool

	EngineVersion string
	// PromptHash empty means PromptHash().
	PromptHash   string
	Prefix       string
	QuantizeStep float64
}

// OptionsFromConfig maps the process configuration onto Service options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		EnableStore:    cfg.EnableStore,
		EnableSWR:      cfg.EnableSWR,
		EnableStampede: cfg.EnableStampedeProtection,
		EnableNegative: cfg.EnableNegativeCache,
		EngineVersion:  cfg.EngineVersion,
		PromptHash:     cfg.PromptHash,
		Prefix:         cfg.Prefix,
	}
}

// Service composes key derivation, the negative cache, stale-while-revalidate,
// the stampede guard and the generator per request.
type Service struct {
	store  *cache.Store
	gen    Generator
	opts   Options
	log    logger.Logger
	tracer trace.Tracer
}

// New returns a Service. store may be nil, which disables caching regardless of opts.
func New(store *cache.Store, gen Generator, opts Options, log logger.Logger) *Service {
	if opts.PromptHash == "" {
		opts.PromptHash = PromptHash()
	}
	if store == nil {
		opts.EnableStore = false
	}
	return &Service{
		store:  store,
		gen:    gen,
		opts:   opts,
		log:    logger.WithComponent(log, "narrative"),
		tracer: otel.Tracer("github.com/starsorter/narrative-cache/narrative"),
	}
}

// Key is the cache key of r under the service's versions.
func (s *Service) Key(r profile.Request) string {
	return cachekey.Derive(r, cachekey.Options{
		EngineVersion: s.opts.EngineVersion,
		PromptHash:    s.opts.PromptHash,
		Prefix:        s.opts.Prefix,
		QuantizeStep:  s.opts.QuantizeStep,
	})
}

// GetNarrative returns the narrative for r. bypass skips the cache entirely.
// Failures are logged and answered with Fallback(r).
func (s *Service) GetNarrative(ctx context.Context, r profile.Request, bypass bool) Response {
	ctx, log, span := telemetry.StartSpan(ctx, s.log, s.tracer, "narrative.get", trace.WithAttributes(
		attribute.String("narrative.classification", string(r.Classification)),
		attribute.Bool("narrative.bypass", bypass),
	))
	defer span.End()

	if bypass || !s.opts.EnableStore {
		summary, err := s.generate(ctx, r)
		if err != nil {
			span.RecordError(err)
			log.Warn("error generating narrative (cache off): %s", err)
			return Response{Summary: Fallback(r)}
		}
		return Response{Summary: summary}
	}

	key := s.Key(r)
	span.SetAttributes(attribute.String("cache.key", key))
	summary, src, err := s.lookup(ctx, key, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "served fallback")
		if s.opts.EnableNegative && IsValidation(err) && !errors.Is(err, ErrNegativeCached) {
			s.store.CacheNegativeResult(ctx, key, err.Error(), 0)
		}
		log.Warn("error getting narrative %s, serving fallback: %s", key, err)
		return Response{Summary: Fallback(r)}
	}
	span.SetAttributes(attribute.String("cache.source", src.String()))
	return Response{Summary: summary, Cached: src.Cached()}
}

func (s *Service) lookup(ctx context.Context, key string, r profile.Request) (string, cache.Source, error) {
	if s.opts.EnableNegative {
		if neg := s.store.GetNegativeEntry(ctx, key); neg != nil {
			return "", cache.SourceGenerated, errors.Mark(
				errors.Newf("%s (recorded %s)", neg.Error, humanize.Time(neg.Timestamp)), ErrNegativeCached)
		}
	}

	gen := s.store.Persisting(key, r.Redact(), func(ctx context.Context) (string, error) {
		return s.generate(ctx, r)
	})

	var (
		entry codec.CachedNarrative
		src   cache.Source
		err   error
	)
	switch {
	case s.opts.EnableSWR && s.opts.EnableStampede:
		entry, src, err = s.store.WithSWR(ctx, key, s.store.Guarded(key, gen))
	case s.opts.EnableSWR:
		entry, src, err = s.store.WithSWR(ctx, key, gen)
	case s.opts.EnableStampede:
		entry, src, err = s.store.WithLock(ctx, key, gen)
	default:
		if cached, ok := s.store.GetCached(ctx, key); ok {
			return cached.Summary, cache.SourceFresh, nil
		}
		entry, err = gen(ctx, nil)
		src = cache.SourceGenerated
	}
	if err != nil {
		return "", src, err
	}
	return entry.Summary, src, nil
}

// generate validates r and asks the generator for a narrative. Errors are
// marked ErrValidation or ErrGeneration.
func (s *Service) generate(ctx context.Context, r profile.Request) (string, error) {
	if err := r.Validate(); err != nil {
		return "", errors.Mark(err, ErrValidation)
	}
	user, err := BuildUserPrompt(r)
	if err != nil {
		return "", errors.Mark(err, ErrGeneration)
	}
	ctx, span := s.tracer.Start(ctx, "narrative.generate")
	defer span.End()
	text, err := s.gen.Generate(ctx, SystemPrompt, user)
	if err != nil {
		span.RecordError(err)
		if !IsValidation(err) && !errors.Is(err, ErrGeneration) {
			err = errors.Mark(err, ErrGeneration)
		}
		return "", err
	}
	return text, nil
}
