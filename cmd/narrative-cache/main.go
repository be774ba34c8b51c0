package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/starsorter/narrative-cache/cache"
	"github.com/starsorter/narrative-cache/config"
	"github.com/starsorter/narrative-cache/env"
	"github.com/starsorter/narrative-cache/logger"
	"github.com/starsorter/narrative-cache/narrative"
	"github.com/starsorter/narrative-cache/redisconn"
)

const serviceName = "narrative-cache"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Cached narrative generation for star system profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "", "log level: trace, debug, info, warn or error (env "+logger.LevelEnv+")")
	flags.String("env-file", ".env", "environment file, overridden by the process environment")
	flags.Bool("no-telemetry", false, "disable trace export")
	flags.String("otlp-url", "", "OTLP endpoint for trace export (env OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.String("otlp-shared-secret", "", "shared secret used to sign the OTLP bearer token")

	root.AddCommand(
		newNarrateCmd(),
		newPurgeCmd(),
		newStatsCmd(),
		newCheckCmd(),
		newKeyCmd(),
		newHashPromptCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		logger.NewConsoleLogger().Error("%s", err)
		stop()
		os.Exit(1)
	}
}

// app holds what a command needs once configuration has been loaded.
type app struct {
	ctx      context.Context
	log      logger.Logger
	cfg      config.Config
	manager  *redisconn.Manager
	store    *cache.Store
	metrics  *prometheus.Registry
	shutdown func()
}

// newApp loads configuration and telemetry. When withStore is set and the
// cache is enabled, it also builds the connection manager and the store but
// does not connect yet.
func newApp(cmd *cobra.Command, withStore bool) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, log, shutdown, err := env.NewTelemetry(ctx, cmd, serviceName)
	if err != nil {
		return nil, err
	}
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		shutdown()
		return nil, err
	}
	a := &app{ctx: ctx, log: log, cfg: cfg, metrics: prometheus.NewRegistry(), shutdown: shutdown}
	if withStore && cfg.EnableStore {
		redis.SetLogger(logger.ToRedis(log))
		a.manager = redisconn.New(redisconn.OptionsFromConfig(cfg), log)
		opts := append(cache.OptionsFromConfig(cfg),
			cache.WithVersions(cfg.EngineVersion, a.promptHash()),
			cache.WithMetrics(cache.NewMetrics(a.metrics)),
		)
		a.store = cache.New(a.manager, log, opts...)
	}
	return a, nil
}

func (a *app) promptHash() string {
	if a.cfg.PromptHash != "" {
		return a.cfg.PromptHash
	}
	return narrative.PromptHash()
}

// connect runs the startup routine. The error means the store is degraded.
func (a *app) connect() error {
	if a.manager == nil {
		return nil
	}
	return a.manager.Initialize(a.ctx, a.cfg)
}

// requireStore fails commands that only make sense against a live store.
func (a *app) requireStore() error {
	if a.store == nil {
		return errCacheDisabled
	}
	return nil
}

func (a *app) service(gen narrative.Generator) *narrative.Service {
	return narrative.New(a.store, gen, narrative.OptionsFromConfig(a.cfg), a.log)
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Drain()
	}
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			a.log.Debug("error closing store connection: %s", err)
		}
	}
	a.shutdown()
}
