package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/xhit/go-str2duration/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// GenerateOTLPBearerToken signs token with sharedSecret as "{token}.{sig}".
func GenerateOTLPBearerToken(sharedSecret string, token string) (string, error) {
	sum := sha256.Sum256([]byte(sharedSecret + "." + token))
	return token + "." + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// GenerateOTLPBearerTokenWithExpiration signs a token of the form
// "{lifetime}.{issuedAt}" where lifetime is rounded to the minute.
func GenerateOTLPBearerTokenWithExpiration(sharedSecret string, expiration time.Time) (string, error) {
	now := time.Now()
	if !expiration.After(now) {
		return "", errors.New("expiration time is in the past")
	}
	lifetime := expiration.Sub(now).Round(time.Minute)
	return GenerateOTLPBearerToken(sharedSecret, str2duration.String(lifetime)+"."+strconv.FormatInt(now.Unix(), 10))
}

type ShutdownFunc func()

// New installs a global OTLP/HTTP tracer provider that exports to
// {otlpServerURL}/v1/traces. The returned logger is log (or a console logger
// when nil) tagged with the service name.
func New(ctx context.Context, serviceName string, sharedSecret string, otlpServerURL string, log logger.Logger) (context.Context, logger.Logger, ShutdownFunc, error) {
	otlpURL, err := url.Parse(otlpServerURL)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "parse otlp url")
	}
	otlpURL.Path = "/v1/traces"
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	log = log.With(map[string]interface{}{"service": serviceName})

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
		log.Warn("telemetry resource: %s", err)
	} else if err != nil {
		return nil, nil, nil, errors.Wrap(err, "create telemetry resource")
	}

	headers := make(map[string]string)
	if sharedSecret != "" {
		token, err := GenerateOTLPBearerTokenWithExpiration(sharedSecret, time.Now().Add(24*time.Hour*365))
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "generate otlp bearer token")
		}
		headers["Authorization"] = "Bearer " + token
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(otlpURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if otlpURL.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "create trace exporter")
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return ctx, log, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn("error shutting down tracer provider: %s", err)
		}
	}, nil
}

// StartSpan starts a span and returns a logger that carries its ids.
func StartSpan(ctx context.Context, log logger.Logger, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, logger.Logger, trace.Span) {
	ctx, span := tracer.Start(ctx, name, opts...)
	sc := span.SpanContext()
	if sc.IsValid() {
		log = log.With(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	return ctx, log.WithContext(ctx), span
}
