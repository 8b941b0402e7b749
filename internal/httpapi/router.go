package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"llmgate/internal/alerting"
	"llmgate/internal/auth"
	"llmgate/internal/budget"
	"llmgate/internal/cache"
	"llmgate/internal/config"
	"llmgate/internal/logging"
	"llmgate/internal/queue"
	"llmgate/internal/router"
	"llmgate/internal/spend"
	"llmgate/internal/storage"
	"llmgate/internal/utils"
)

// Dependencies aggregates every service the HTTP layer needs. Built once at
// startup; there is no package-level state.
type Dependencies struct {
	Auth        *auth.Authenticator
	Enforcer    *budget.Enforcer
	Router      *router.Router
	SpendWriter *spend.Writer
	LogWriter   *spend.LogWriter
	Keys        *storage.KeyRepository
	Logger      *utils.Logger

	db      *storage.DB
	redis   *storage.RedisClient
	cache   *cache.HybridCache
	alerts  *alerting.Dispatcher
	archive *logging.ArchiveSink

	reloadStop chan struct{}
}

// NewRouter wires the full application and returns the HTTP mux plus the
// dependency graph for lifecycle management.
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var redisClient *storage.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	hybrid := cache.NewHybridCache(cfg.Cache.AuthCacheSize, cfg.Cache.AuthCacheTTL, redisRaw(redisClient))
	if err := hybrid.Open(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}

	alerts := alerting.NewDispatcher(256, alerting.NewLogNotifier())

	authenticator := auth.NewAuthenticator(auth.Config{
		MasterKey:        cfg.Auth.MasterKey,
		JWTSecret:        cfg.Auth.JWTSecret,
		JWTEnabled:       cfg.Auth.JWTEnabled,
		PublicRoutes:     cfg.Auth.PublicRoutes,
		UISentinelTeamID: cfg.Auth.UISentinelTeamID,
		CacheTTL:         cfg.Cache.AuthCacheTTL,
	}, db, hybrid)

	spendRepo := db.NewSpendRepository()
	limiter := budget.NewRateLimiter(redisRaw(redisClient))
	enforcer := budget.NewEnforcer(budget.Config{
		GlobalMaxBudget:    cfg.Budget.GlobalMaxBudget,
		SoftBudgetFraction: cfg.Budget.SoftBudgetFraction,
		ModelSpendWindow:   cfg.Budget.ModelSpendWindow,
		SpendCacheTTL:      cfg.Cache.SpendCacheTTL,
	}, hybrid, spendRepo, limiter, alerts)

	spendWriter := spend.NewWriter(spend.Config{
		FlushInterval: cfg.Spend.FlushInterval,
	}, spendRepo, hybrid, cfg.Cache.SpendCacheTTL, alerts)
	spendWriter.Start()

	// Spend log path: queue + DLQ, Redis-backed when available so the
	// backlog survives restarts, plus the optional S3 archive.
	queueCfg := queue.DefaultConfig("spend-logs")
	queueCfg.BatchSize = cfg.Spend.LogBatchSize
	var (
		logQueue queue.Queue
		logDLQ   queue.DeadLetterQueue
	)
	if redisClient != nil {
		logQueue, err = queue.NewRedisQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create spend log queue: %w", err)
		}
		logDLQ, err = queue.NewRedisDeadLetterQueue(redisClient.Client(), queueCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create spend log DLQ: %w", err)
		}
	} else {
		logQueue = queue.NewMemoryQueue(queueCfg)
		logDLQ = queue.NewMemoryDeadLetterQueue()
	}

	var archive *logging.ArchiveSink
	var sink spend.LogSink
	if cfg.SpendLog.Enabled {
		s3Writer, err := logging.NewS3Writer(context.Background(),
			cfg.SpendLog.S3Bucket, cfg.SpendLog.S3Region, cfg.SpendLog.S3Prefix, cfg.SpendLog.PodName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize S3 archive: %w", err)
		}
		archive = logging.NewArchiveSink(s3Writer, logging.Config{
			BufferSize:    cfg.SpendLog.BufferSize,
			FlushSize:     cfg.SpendLog.FlushSize,
			FlushInterval: cfg.SpendLog.FlushInterval,
		})
		sink = archive
	}

	logWriter := spend.NewLogWriter(cfg.Spend.LogEnabled, logQueue, logDLQ, spendRepo, sink, queueCfg)
	logWriter.Start(context.Background())

	catalog := router.NewCatalog(db.NewDeploymentRepository(), nil)
	if err := catalog.Reload(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to load deployment catalog: %w", err)
	}
	adapter := router.NewHTTPAdapter(cfg.Router.DispatchTimeout)
	deploymentRouter := router.New(router.Config{
		Strategy:         cfg.Router.Strategy,
		MaxAttempts:      cfg.Router.MaxAttempts,
		DispatchTimeout:  cfg.Router.DispatchTimeout,
		FailureWindow:    cfg.Router.FailureWindow,
		FailureThreshold: cfg.Router.FailureThreshold,
		CooldownPeriod:   cfg.Router.CooldownPeriod,
	}, catalog, adapter, alerts)

	deps := &Dependencies{
		Auth:        authenticator,
		Enforcer:    enforcer,
		Router:      deploymentRouter,
		SpendWriter: spendWriter,
		LogWriter:   logWriter,
		Keys:        db.NewKeyRepository(),
		Logger:      utils.NewLogger("httpapi"),
		db:          db,
		redis:       redisClient,
		cache:       hybrid,
		alerts:      alerts,
		archive:     archive,
		reloadStop:  make(chan struct{}),
	}
	go deps.reloadCatalogLoop(catalog)

	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux, deps, nil
}

// redisRaw unwraps the optional Redis client; nil disables the shared tiers.
func redisRaw(c *storage.RedisClient) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Inference surface
	mux.HandleFunc("/v1/chat/completions", deps.handleCompletions)
	mux.HandleFunc("/v1/completions", deps.handleCompletions)
	mux.HandleFunc("/v1/embeddings", deps.handleCompletions)

	// Public routes
	mux.HandleFunc("/health", deps.handleHealth)
	mux.HandleFunc("/v1/models", deps.handleModels)

	// Key management
	mux.HandleFunc("/key/generate", deps.handleKeyGenerate)
	mux.HandleFunc("/key/delete", deps.handleKeyDelete)
	mux.HandleFunc("/key/info", deps.handleKeyInfo)
}

// handleHealth reports store and cache health.
func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok"}
	code := http.StatusOK
	if err := d.db.Health(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if d.redis != nil {
		status["redis"] = "ok"
		if err := d.redis.Health(ctx); err != nil {
			status["redis"] = err.Error()
		}
	}
	writeJSON(w, code, status)
}

// reloadCatalogLoop refreshes the deployment catalog every minute.
func (d *Dependencies) reloadCatalogLoop(catalog *router.Catalog) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := catalog.Reload(ctx); err != nil {
				d.Logger.Warn("catalog reload failed", "error", err)
			}
			cancel()
		case <-d.reloadStop:
			return
		}
	}
}

// Shutdown drains writers and closes every resource, in dependency order:
// stop taking new accounting work, flush what is pending, then close stores.
func (d *Dependencies) Shutdown(ctx context.Context) {
	close(d.reloadStop)

	d.SpendWriter.Shutdown(ctx)
	if err := d.LogWriter.Stop(); err != nil {
		d.Logger.Warn("spend log writer stop failed", "error", err)
	}
	if d.archive != nil {
		d.archive.Close()
	}
	d.alerts.Close()

	if err := d.cache.Close(); err != nil {
		d.Logger.Warn("cache close failed", "error", err)
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.Logger.Warn("redis close failed", "error", err)
		}
	}
	if err := d.db.Close(); err != nil {
		d.Logger.Warn("database close failed", "error", err)
	}
}
