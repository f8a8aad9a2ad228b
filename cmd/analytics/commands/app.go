package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/aegis-analytics/internal/guardrail"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/internal/provider"
	"github.com/wonny/aegis-analytics/internal/stages"
	"github.com/wonny/aegis-analytics/internal/store"
	"github.com/wonny/aegis-analytics/pkg/config"
	"github.com/wonny/aegis-analytics/pkg/database"
	"github.com/wonny/aegis-analytics/pkg/httputil"
	"github.com/wonny/aegis-analytics/pkg/logger"
	"github.com/wonny/aegis-analytics/pkg/redis"
)

// app holds the wired pipeline and the resources to release on exit
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	executor *pipeline.Executor
	guard    *guardrail.Guardrail
	index    *store.RecentIndex
	files    *store.FileSink
	db       *database.DB
	redis    *redis.Client
}

// appOptions tweaks wiring per command
type appOptions struct {
	fixture string // 비어 있지 않으면 네트워크 대신 fixture 사용
	observe func(log *logger.Logger) []pipeline.Observer
}

// loadConfig loads config and applies global flag overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// newApp wires providers, guardrail, sinks and the executor
// ⭐ SSOT: 실행 그래프 조립은 여기서만
func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	log := logger.New(cfg)
	a := &app{cfg: cfg, log: log, index: store.NewRecentIndex(200)}

	// 1. Redis (선택)
	rc, err := redis.New(cfg)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, continuing without cache and shared rate limits")
		rc = redis.Disabled()
	}
	a.redis = rc

	// 2. Guardrail policy
	policy := guardrail.PolicyFromConfig(cfg)
	if cfg.Guardrail.PolicyFile != "" {
		if policy, _, err = guardrail.LoadPolicyFile(cfg.Guardrail.PolicyFile, policy); err != nil {
			a.Close()
			return nil, err
		}
	}

	var limiter guardrail.Limiter
	if rc.Enabled() {
		limiter = guardrail.NewRedisLimiter(redis.NewRateLimiter(rc, "analytics"), policy.RateLimit, policy.RateWindow)
	}
	a.guard, err = guardrail.New(policy, limiter, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("guardrail policy: %w", err)
	}

	// 3. Fetcher
	fetcher := a.newFetcher(opts.fixture)

	// 4. Sinks
	a.files = store.NewFileSink(cfg.Pipeline.RunsDir, log)
	sinks := store.MultiSink{a.index, a.files}
	if cfg.Database.Enabled() {
		db, err := database.New(cfg)
		if err != nil {
			log.WithError(err).Warn("Database unavailable, run records go to files only")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = db.EnsureSchema(ctx)
			cancel()
			if err != nil {
				db.Close()
				a.Close()
				return nil, err
			}
			a.db = db
			sinks = append(sinks, store.NewPostgresSink(db.Pool))
		}
	}

	// 5. Pipeline
	def, err := stages.NewDefinition(stages.Deps{
		Fetcher:       fetcher,
		Logger:        log,
		AllowDegraded: cfg.Pipeline.AllowDegraded,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pipeline definition: %w", err)
	}

	execOpts := []pipeline.Option{pipeline.WithSink(sinks)}
	if opts.observe != nil {
		for _, o := range opts.observe(log) {
			execOpts = append(execOpts, pipeline.WithObserver(o))
		}
	}
	a.executor = pipeline.NewExecutor(def, a.guard, log, execOpts...)

	return a, nil
}

func (a *app) newFetcher(fixture string) provider.Fetcher {
	if fixture != "" {
		a.log.WithField("fixture", fixture).Info("Using fixture data")
		return provider.NewFileFetcher(fixture)
	}

	limiter := redis.NewRateLimiter(a.redis, "analytics")

	yahooHTTP := httputil.New(a.cfg, a.log).WithLimiter(limiter.For(redis.YahooRateLimit))
	yahoo := provider.NewYahooClient(yahooHTTP, a.cfg.Providers.YahooBaseURL, a.log)

	var news provider.NewsSource
	if a.cfg.Providers.MarketAuxAPIKey != "" {
		newsHTTP := httputil.New(a.cfg, a.log).WithLimiter(limiter.For(redis.MarketAuxRateLimit))
		news = provider.NewMarketAuxClient(newsHTTP, a.cfg.Providers.MarketAuxBaseURL,
			a.cfg.Providers.MarketAuxAPIKey, a.cfg.Providers.NewsLimit, a.log)
	}

	fetcher := provider.NewDataFetcher(yahoo, news, a.log)
	return provider.NewCachedFetcher(fetcher, redis.NewCache(a.redis, "analytics"), a.cfg.Providers.CacheTTL, a.log)
}

// Close releases database and redis connections
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
