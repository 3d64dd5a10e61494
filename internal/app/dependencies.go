package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/cache"
	"github.com/noah-isme/backend-pricing/internal/catalog"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/db"
	"github.com/noah-isme/backend-pricing/internal/formula"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
	"github.com/noah-isme/backend-pricing/internal/rules"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

const (
	applicationName   = "pricing-api"
	resultCachePrefix = "pricing"
	rulesRetries      = 2
)

// Dependencies enumerates the shared infrastructure handed to the pricing module.
type Dependencies struct {
	Config *config.Config
	Logger zerolog.Logger
	DB     *pgxpool.Pool
	Redis  *redis.Client
}

// Pricing is the assembled pricing module.
type Pricing struct {
	Service      *pricing.Service
	Handler      *pricing.Handler
	RulesBreaker *resilience.Breaker
}

// OpenPostgres connects a pgx pool with the query tracer installed.
func OpenPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = cfg.DBMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis connects a Redis client with OpenTelemetry instrumentation.
// Instrumentation failures are logged, not fatal.
func OpenRedis(ctx context.Context, cfg *config.Config, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RunMigrations applies the embedded schema when MIGRATE_ON_START is set.
func RunMigrations(cfg *config.Config, logger zerolog.Logger) error {
	if !cfg.MigrateOnStart {
		return nil
	}
	if err := db.Up(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("migrations applied")
	return nil
}

// NewUsageStore selects the usage counter backend named by USAGE_STORE.
func NewUsageStore(deps Dependencies) (pricing.UsageStore, error) {
	switch deps.Config.UsageStore {
	case "redis":
		if deps.Redis == nil {
			return nil, errors.New("usage store redis requires a redis client")
		}
		return usage.NewRedisStore(deps.Redis, deps.Config.UsageRedisPrefix), nil
	case "postgres", "":
		if deps.DB == nil {
			return nil, errors.New("usage store postgres requires a database pool")
		}
		return usage.NewPostgresStore(deps.DB), nil
	default:
		return nil, fmt.Errorf("unknown usage store %q", deps.Config.UsageStore)
	}
}

// NewPricing assembles the rule source, resolver, caches, usage store and
// service into a mounted-ready handler. commit wraps the commit endpoint.
func NewPricing(deps Dependencies, commit func(http.Handler) http.Handler) (*Pricing, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("app: database pool is required")
	}
	limits := formula.DefaultLimits()
	if cfg.FormulaMaxNodes > 0 {
		limits.MaxNodes = cfg.FormulaMaxNodes
	}
	if cfg.FormulaMaxSteps > 0 {
		limits.MaxSteps = cfg.FormulaMaxSteps
	}

	logger := deps.Logger
	breaker := resilience.NewBreaker(resilience.Config{
		Target:       "rules_db",
		MinRequests:  int(cfg.RulesBreakerMinRequests),
		FailureRatio: cfg.RulesBreakerFailureRatio,
		OpenFor:      cfg.RulesBreakerOpenFor,
		Logger:       &logger,
	})
	source := rules.NewGuardedSource(rules.NewRepository(deps.DB, limits, logger), breaker, rulesRetries)

	var snapshots *catalog.Cache
	if deps.Redis != nil {
		snapshots = catalog.NewCache(deps.Redis, cfg.ArticleCacheTTL)
	}
	resolver, err := catalog.NewResolver(catalog.ResolverConfig{DB: deps.DB, Cache: snapshots, Logger: logger})
	if err != nil {
		return nil, err
	}

	store, err := NewUsageStore(deps)
	if err != nil {
		return nil, err
	}

	svcCfg := pricing.ServiceConfig{
		Rules:           source,
		Resolver:        resolver,
		Usage:           store,
		Limits:          limits,
		Precision:       cfg.PricePrecision,
		BulkConcurrency: cfg.BulkConcurrency,
		BulkMaxContexts: cfg.BulkMaxContexts,
		MaxScenarios:    cfg.MaxScenarios,
		Logger:          logger,
		Now:             time.Now,
	}
	if cfg.PricingCacheEnabled && deps.Redis != nil {
		svcCfg.Cache = cache.NewResults(deps.Redis, resultCachePrefix, cfg.PricingCacheTTL)
	}
	svc, err := pricing.NewService(svcCfg)
	if err != nil {
		return nil, err
	}

	return &Pricing{
		Service:      svc,
		Handler:      pricing.NewHandler(pricing.HandlerConfig{Service: svc, CommitMiddleware: commit}),
		RulesBreaker: breaker,
	}, nil
}

// ReadinessChecker pings the database and Redis for the readiness probe.
type ReadinessChecker struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// PingDB implements health.Checker.
func (c ReadinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.DB.Ping(ctx)
}

// PingRedis implements health.Checker.
func (c ReadinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Redis.Ping(ctx).Err()
}
