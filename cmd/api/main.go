package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kevinhust/CAA900-sub003/internal/cache"
	"github.com/kevinhust/CAA900-sub003/internal/config"
	"github.com/kevinhust/CAA900-sub003/internal/database"
	"github.com/kevinhust/CAA900-sub003/internal/execution"
	"github.com/kevinhust/CAA900-sub003/internal/handlers"
	"github.com/kevinhust/CAA900-sub003/internal/loader"
	"github.com/kevinhust/CAA900-sub003/internal/logger"
	"github.com/kevinhust/CAA900-sub003/internal/resolvers"
	"github.com/kevinhust/CAA900-sub003/internal/services"
	"github.com/kevinhust/CAA900-sub003/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Load configuration (.env, optional TOML file, JOBQUEST_* env)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	// 2. Logger
	sugar, err := logger.New(logger.Options{JSON: cfg.Log.JSON, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()

	// 3. Database Connection
	db, err := database.Connect(cfg.Database.DSN, cfg.Database.AutoMigrate, sugar)
	if err != nil {
		sugar.Fatalw("Database connection failed", logger.FieldError, err)
	}

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cacheMetrics, err := cache.NewMetrics(reg)
	if err != nil {
		sugar.Fatalw("Cache metrics registration failed", logger.FieldError, err)
	}
	loaderMetrics, err := loader.NewMetrics(reg)
	if err != nil {
		sugar.Fatalw("Loader metrics registration failed", logger.FieldError, err)
	}
	execMetrics, err := execution.NewMetrics(reg)
	if err != nil {
		sugar.Fatalw("Execution metrics registration failed", logger.FieldError, err)
	}

	// 5. Cache backend and layer
	backend, err := newCacheBackend(ctx, cfg.Cache, cacheMetrics)
	if err != nil {
		sugar.Fatalw("Cache backend unavailable", logger.FieldError, err)
	}
	layer := cache.NewLayer(backend,
		cache.WithNamespace(cfg.Cache.Namespace),
		cache.WithTTLs(cfg.Cache.TTLs()),
		cache.WithMetrics(cacheMetrics),
		cache.WithLogger(sugar),
	)
	sugar.Infow("Cache ready", "backend", cfg.Cache.Backend, "namespace", cfg.Cache.Namespace)

	// 6. Initialize Core Services (Dependencies)
	registry := store.NewGormRegistry(db)
	jobService := services.NewJobService(db, layer, sugar)
	llmService, err := services.NewLLMService(ctx, cfg.LLM, sugar)
	if err != nil {
		sugar.Fatalw("LLM client creation failed", logger.FieldError, err)
	}

	// 7. GraphQL executor, one batch loader per request
	schema, err := resolvers.Schema()
	if err != nil {
		sugar.Fatalw("Schema is invalid", logger.FieldError, err)
	}
	executor := execution.NewExecutor(schema, resolvers.New(jobService, llmService).Map(),
		execution.WithLogger(sugar),
		execution.WithTimeout(cfg.Request.Timeout()),
		execution.WithMetrics(execMetrics),
		execution.WithLoaders(func() *loader.Loader {
			return loader.New(registry,
				loader.WithCache(layer),
				loader.WithWait(cfg.Loader.Wait()),
				loader.WithMaxBatch(cfg.Loader.MaxBatch),
				loader.WithMetrics(loaderMetrics),
				loader.WithLogger(sugar),
			)
		}),
	)

	// 8. Initialize Handlers
	graphqlHandler := handlers.NewGraphQLHandler(executor)
	jobHandler := handlers.NewJobHandler(llmService)
	healthHandler := handlers.NewHealthHandler(layer)

	// 9. Setup Router & CORS
	r := gin.New()
	r.Use(gin.Recovery())
	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", handlers.SubjectHeader}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	r.Use(cors.New(corsConfig))

	// 10. Define Routes
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	api := r.Group("/api/v1")
	{
		api.GET("/health", healthHandler.Check)
		api.POST("/graphql", graphqlHandler.Query)
		api.POST("/jobs/extract", jobHandler.ParseJob)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	sugar.Infow("Server starting", logger.FieldAddress, addr)
	if err := r.Run(addr); err != nil {
		sugar.Fatalw("Server failed to start", logger.FieldError, err)
	}
}

func newCacheBackend(ctx context.Context, cfg config.CacheConfig, metrics *cache.Metrics) (cache.Backend, error) {
	switch cfg.Backend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisBackend(client, cfg.Namespace), nil
	default:
		mem := cache.NewMemoryBackend(
			cache.WithMaxEntries(cfg.MaxEntries),
			cache.WithEvictionHook(metrics.RecordEviction),
		)
		go mem.Run(ctx, time.Minute)
		return mem, nil
	}
}
