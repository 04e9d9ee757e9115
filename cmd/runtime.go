// Package cmd provides the commands of the digest CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/credentials"
	"github.com/yf-hk/ai-meeting-digest/pkg/ai"
	"github.com/yf-hk/ai-meeting-digest/pkg/auth"
	"github.com/yf-hk/ai-meeting-digest/pkg/db"
	"github.com/yf-hk/ai-meeting-digest/pkg/events"
	"github.com/yf-hk/ai-meeting-digest/pkg/locks"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/orchestrator"
	"github.com/yf-hk/ai-meeting-digest/pkg/runlog"
	"github.com/yf-hk/ai-meeting-digest/pkg/storage"
	"github.com/yf-hk/ai-meeting-digest/pkg/transcript"
)

// metricsNamespace prefixes collectors registered here.
const metricsNamespace = "digest"

// Runtime is the wired processing stack shared by serve and process.
type Runtime struct {
	Config    *config.Config
	Logger    logging.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Pool      *pgxpool.Pool
	Processor *meeting.Processor
	Sessions  auth.SessionProvider
	KeySource credentials.Source

	closers []func()
}

// ConnectFunc opens the application database.
type ConnectFunc func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error)

// RuntimeDeps holds the seams NewRuntime uses.
type RuntimeDeps struct {
	Connect    ConnectFunc
	OpenRunLog func(dsn string) (*runlog.Client, error)
	NewRedis   func(opts *redis.Options) *redis.Client
	ResolveKey func() (string, credentials.Source, error)
}

// DefaultRuntimeDeps returns the production seams.
func DefaultRuntimeDeps() *RuntimeDeps {
	return &RuntimeDeps{
		Connect: func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error) {
			return db.ConnectWithRetry(ctx, cfg, 5, 2*time.Second)
		},
		OpenRunLog: runlog.Open,
		NewRedis:   redis.NewClient,
		ResolveKey: resolveAPIKey,
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config) logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.Log.Level)
	lc.JSONFormat = cfg.Log.JSON
	if env := os.Getenv("DIGEST_ENV"); env != "" {
		lc.Environment = env
	}
	return logging.NewLogger(lc)
}

// NewRuntime connects to every configured backend and builds the processor.
// Optional backends (Redis, run log) degrade to in-process stand-ins when
// unset. Close releases everything opened.
func NewRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger, deps *RuntimeDeps) (*Runtime, error) {
	if deps == nil {
		deps = DefaultRuntimeDeps()
	}
	rt := &Runtime{Config: cfg, Logger: logger}

	if cfg.APIKey == "" {
		key, src, err := deps.ResolveKey()
		if err != nil && !errors.Is(err, credentials.ErrNoCredentials) {
			logger.Warn("Could not read stored API key", logging.Err(err))
		}
		cfg.APIKey = key
		rt.KeySource = src
	} else {
		rt.KeySource = credentials.SourceEnvironment
	}
	if cfg.APIKey == "" {
		logger.Warn("No OpenRouter API key configured; processing requests will fail until one is set")
	}

	rt.Registry = prometheus.NewRegistry()
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.Metrics = observability.NewMetrics(rt.Registry)
	tracer := observability.NewTracer()

	pool, err := deps.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database %s: %w", cfg.Database.Redacted(), err)
	}
	rt.Pool = pool
	rt.closers = append(rt.closers, pool.Close)
	if _, err := db.RegisterPoolStats(rt.Registry, pool, metricsNamespace); err != nil {
		rt.Close()
		return nil, fmt.Errorf("registering pool metrics: %w", err)
	}

	opts := []meeting.Option{
		meeting.WithLogger(logger),
		meeting.WithMetrics(rt.Metrics),
		meeting.WithTracer(tracer),
	}

	if cfg.Redis.Enabled() {
		redisOpts, err := cfg.Redis.Options()
		if err != nil {
			rt.Close()
			return nil, err
		}
		rc := deps.NewRedis(redisOpts)
		rt.closers = append(rt.closers, func() { _ = rc.Close() })
		if err := rc.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		opts = append(opts,
			meeting.WithLocker(locks.NewRedis(rc, cfg.Redis.LockTTL)),
			meeting.WithEvents(events.NewPublisher(rc, logger)),
		)
		logger.Info("Redis locking and events enabled", logging.F("addr", redisOpts.Addr))
	} else {
		opts = append(opts, meeting.WithLocker(locks.NewLocal()))
	}

	if cfg.RunLogDSN != "" {
		rl, err := deps.OpenRunLog(cfg.RunLogDSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening run log: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = rl.Close() })
		if err := rl.EnsureSchema(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("preparing run log: %w", err)
		}
		opts = append(opts, meeting.WithRunLog(rl))
	}

	client := ai.NewClient(cfg.AIClientConfig(),
		ai.WithLogger(logger),
		ai.WithMetrics(rt.Metrics),
		ai.WithTracer(tracer),
	)
	orch := orchestrator.New(client,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(rt.Metrics),
		orchestrator.WithTracer(tracer),
		orchestrator.WithStageDelay(cfg.AI.StageDelay),
		orchestrator.WithTemperature(cfg.AI.Temperature),
	)

	files := transcript.LocalFiles{Root: cfg.Files.Root, MaxBytes: cfg.Files.MaxBytes}
	repo := storage.NewRepository(pool, logger)
	rt.Processor = meeting.New(repo, orch, files, opts...)

	if cfg.Server.DevToken != "" {
		logger.Warn("Development token authentication enabled", logging.F("user_id", cfg.Server.DevUser))
		rt.Sessions = auth.Static{cfg.Server.DevToken: cfg.Server.DevUser}
	} else {
		rt.Sessions = auth.NewPostgresSessions(pool, logger)
	}

	return rt, nil
}

// Ready pings the database; it feeds gRPC health.
func (r *Runtime) Ready(ctx context.Context) error {
	return db.Ping(ctx, r.Pool)
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// resolveAPIKey reads OPENROUTER_API_KEY, then the credential store.
func resolveAPIKey() (string, credentials.Source, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return credentials.ResolveAPIKey(os.Getenv, nil)
	}
	store, err := credentials.NewStore(dir)
	if err != nil {
		// No keyring: only the environment can supply the key.
		key, src, envErr := credentials.ResolveAPIKey(os.Getenv, nil)
		if envErr != nil {
			return "", src, err
		}
		return key, src, nil
	}
	return credentials.ResolveAPIKey(os.Getenv, store)
}
