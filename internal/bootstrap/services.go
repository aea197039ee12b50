// Package bootstrap assembles the long-lived collaborators shared by the API
// server and the queue worker.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/dispatch"
	"mediagen/internal/domain"
	"mediagen/internal/engine"
	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/infra/geoip"
	"mediagen/internal/materialize"
	"mediagen/internal/metrics"
	"mediagen/internal/migrations"
	"mediagen/internal/providers"
	"mediagen/internal/providers/genai"
	"mediagen/internal/providers/qwen"
	"mediagen/internal/providers/replicate"
	"mediagen/internal/queue"
	"mediagen/internal/ratelimit"
	"mediagen/internal/reference"
	"mediagen/internal/storage"
)

const redisPrefix = "mediagen:"

// Services is the wired object graph.
type Services struct {
	Config *infra.Config
	Logger infra.Logger

	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Files       *storage.FileStore
	Metrics     *metrics.Collector
	Geo         *geoip.Resolver
	Generations domain.GenerationRepository
	Sessions    domain.SessionAccess
	Queue       domain.JobQueueRepository

	Catalog    *providers.Catalog
	Registry   *providers.Registry
	Gate       *ratelimit.Gate
	Processor  *engine.Processor
	Dispatcher *dispatch.Router
	Drainer    *queue.Drainer
	Sweeper    *queue.Sweeper
	References *reference.Resolver
}

// Build connects to the database (and Redis when configured) and wires every
// component. The returned Services must be closed.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{Config: cfg, Logger: logger}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Pool = pool

	if cfg.MigrateOnStart {
		if err := migrations.Up(ctx, infra.StdDB(pool), logger); err != nil {
			s.Close()
			return nil, err
		}
	}

	runner := infra.NewSQLRunner(pool, logger)
	s.Generations = repo.NewGenerationRepository(runner)
	s.Sessions = repo.NewSessionAccess(runner)
	s.Queue = repo.NewQueueRepository(runner)

	s.Redis, err = infra.NewRedisClient(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	counters, blocks := RateLimitStores(s.Redis, repo.NewUsageCounterRepository(runner))

	s.Files, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Geo, err = geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: geoip disabled")
		s.Geo = nil
	}

	s.Metrics = metrics.NewCollector("mediagen")
	s.Catalog = providers.DefaultCatalog()
	s.Registry = buildRegistry(ctx, cfg, credentials.NewStore(runner), &s.Logger)

	s.Gate = ratelimit.NewGate(ratelimit.Options{
		Counters: counters,
		Blocks:   blocks,
		Limits:   ratelimit.CatalogLimits(s.Catalog),
		Observer: s.Metrics,
		Logger:   &s.Logger,
	})

	s.Processor = engine.NewProcessor(engine.Options{
		Generations: s.Generations,
		Analysis:    repo.NewAnalysisQueue(runner),
		Catalog:     s.Catalog,
		Registry:    s.Registry,
		Gate:        s.Gate,
		Materializer: materialize.New(materialize.Options{
			Store:       s.Files,
			Bucket:      cfg.StorageBucket,
			Concurrency: cfg.MaterializeConcurrency,
			Logger:      &s.Logger,
			OnFallback:  s.Metrics.OutputFallback,
		}),
		LockWindow:     cfg.ProcessingLockWindow,
		WebhookTimeout: cfg.WebhookTimeout,
		Observer:       s.Metrics,
		Logger:         &s.Logger,
	})

	s.Dispatcher = dispatch.NewRouter(dispatch.Options{
		Generations: s.Generations,
		Queue:       s.Queue,
		Registry:    s.Registry,
		Gate:        s.Gate,
		Trigger: dispatch.NewTrigger(dispatch.TriggerOptions{
			URL:      cfg.ProcessTriggerURL,
			Secret:   cfg.InternalSecret,
			Timeout:  cfg.TriggerTimeout,
			Attempts: cfg.TriggerAttempts,
			Backoff:  cfg.TriggerBackoff,
			Observer: s.Metrics,
			Logger:   &s.Logger,
		}),
		Failer:         s.Processor,
		WebhookEnabled: cfg.WebhookModeEnabled,
		PushEnabled:    cfg.PushTriggerEnabled,
		CallbackURL:    cfg.CallbackURL,
		Logger:         &s.Logger,
	})

	s.Drainer = queue.NewDrainer(queue.Options{
		Queue:         s.Queue,
		Processor:     s.Processor,
		BatchSize:     cfg.QueueBatchSize,
		LeaseTimeout:  cfg.QueueLeaseTimeout,
		RetryDelay:    cfg.QueueRetryDelay,
		LinearBackoff: cfg.QueueLinearBackoff,
		MaxAttempts:   cfg.QueueMaxAttempts,
		Logger:        &s.Logger,
	})
	s.Sweeper = queue.NewSweeper(queue.SweeperOptions{
		Generations: s.Generations,
		Queue:       s.Queue,
		StaleAfter:  cfg.StaleAfter,
		Logger:      &s.Logger,
	})

	s.References = reference.NewResolver(reference.Options{
		Store:  s.Files,
		Bucket: cfg.StorageBucket,
		Logger: &s.Logger,
	})

	return s, nil
}

// Ping checks the database connection.
func (s *Services) Ping(ctx context.Context) error {
	if s.Pool == nil {
		return fmt.Errorf("database not connected")
	}
	return s.Pool.Ping(ctx)
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	if err := s.Geo.Close(); err != nil {
		s.Logger.Warn().Err(err).Msg("bootstrap: close geoip")
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn().Err(err).Msg("bootstrap: close redis")
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// RateLimitStores keeps counters and blocks in Redis when a client is
// available. Otherwise counters go to the database and blocks stay in
// process memory.
func RateLimitStores(client *redis.Client, fallback ratelimit.CounterStore) (ratelimit.CounterStore, ratelimit.BlockStore) {
	if client == nil {
		return fallback, ratelimit.NewMemoryBlockStore()
	}
	return ratelimit.NewRedisCounterStore(client, redisPrefix), ratelimit.NewRedisBlockStore(client, redisPrefix)
}

func buildRegistry(ctx context.Context, cfg *infra.Config, creds *credentials.Store, logger *infra.Logger) *providers.Registry {
	key := func(provider, configured string) string {
		v, err := creds.APIKey(ctx, provider, configured)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("bootstrap: stored credential lookup failed")
			return configured
		}
		return v
	}

	registry := providers.NewRegistry()
	registry.Register(providers.ProviderGemini, genai.NewClient(genai.Options{
		APIKey:  key(providers.ProviderGemini, cfg.GeminiAPIKey),
		BaseURL: cfg.GeminiBaseURL,
		Logger:  logger,
	}))
	registry.Register(providers.ProviderQwen, qwen.NewClient(qwen.Options{
		APIKey:  key(providers.ProviderQwen, cfg.QwenAPIKey),
		BaseURL: cfg.QwenBaseURL,
		Logger:  logger,
	}))
	registry.Register(providers.ProviderReplicate, replicate.NewClient(replicate.Options{
		APIToken: key(providers.ProviderReplicate, cfg.ReplicateAPIKey),
		BaseURL:  cfg.ReplicateBaseURL,
		Logger:   logger,
	}))
	return registry
}
