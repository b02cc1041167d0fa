package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/KENTA-CMC/learning-program/internal/analytics"
	"github.com/KENTA-CMC/learning-program/internal/auth"
	"github.com/KENTA-CMC/learning-program/internal/config"
	"github.com/KENTA-CMC/learning-program/internal/history"
	"github.com/KENTA-CMC/learning-program/internal/llm"
	"github.com/KENTA-CMC/learning-program/internal/observability"
	"github.com/KENTA-CMC/learning-program/internal/processor"
	"github.com/KENTA-CMC/learning-program/internal/session"
	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
	"github.com/KENTA-CMC/learning-program/internal/templates"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	loader := config.NewDefaultLoader()
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if err := cfg.ValidateWithContext(); err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	gin.SetMode(cfg.Server.GinMode)
	logger := observability.NewLogger("main").WithLevel(observability.ParseLevel(cfg.Log.Level))
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("query-processor", version)

	guard := sqlguard.New(cfg.Dataset.Table)
	registry, err := templates.LoadFile(guard, cfg.Dataset.TemplatesFile)
	if err != nil {
		log.Fatal("Failed to load query templates:", err)
	}

	// Analytics engine
	pool, err := analytics.Connect(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns))
	if err != nil {
		log.Fatal("Failed to connect to analytics database:", err)
	}
	defer pool.Close()
	postgresEngine := analytics.NewPostgresEngine(pool, cfg.Dataset.Table, cfg.Query.StatementTimeout)
	engineBreaker := analytics.DefaultCircuitBreakerConfig
	engineBreaker.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn(ctx, "Circuit breaker state changed", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
	}
	engine := analytics.NewCircuitBreakerEngine(postgresEngine, "analytics", engineBreaker)

	healthChecker.Register("database", observability.DatabaseHealthCheck(postgresEngine.Ping))

	// Language model; questions are answered from templates without one
	var model llm.Client
	modelClient, err := llm.New(llmConfig(cfg))
	if llmErr := err; err != nil {
		logger.Warn(ctx, "Language model disabled, answering from templates only", map[string]interface{}{
			"provider": cfg.LLM.Provider,
			"error":    llmErr.Error(),
		})
		healthChecker.Register("llm_service", observability.LLMHealthCheck(func(context.Context) error {
			return llmErr
		}))
	} else {
		breaker := llm.NewCircuitBreakerClient(modelClient, cfg.LLM.Provider,
			llm.LogStateChanges(llm.DefaultCircuitBreakerConfig, logger.Named("llm")))
		model = breaker
		healthChecker.Register("llm_service", observability.LLMHealthCheck(func(context.Context) error {
			if breaker.State() == gobreaker.StateOpen {
				return errors.New("circuit breaker is open")
			}
			return nil
		}))
	}

	// Redis backs the answer cache, chat transcripts and rate limits
	var rdb *redis.Client
	var limiter auth.Limiter
	var sessions *session.Manager
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		limiter = auth.NewRedisLimiter(rdb)
		sessions = session.NewManager(rdb, 7*24*time.Hour)
		healthChecker.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	var store history.Store
	if cfg.Query.HistoryEnabled {
		historyStore, err := history.Open(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Warn(ctx, "Question history disabled", map[string]interface{}{"error": err.Error()})
		} else {
			defer historyStore.Close()
			store = historyStore
			healthChecker.Register("history", observability.PingCheck("history", 2*time.Second,
				observability.HealthStatusDegraded, historyStore.Ping))
		}
	}

	healthChecker.Register("memory", func(ctx context.Context) *observability.HealthCheck {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return &observability.HealthCheck{
			Name:    "memory",
			Status:  observability.HealthStatusHealthy,
			Message: "memory usage",
			Metadata: map[string]interface{}{
				"alloc_bytes": m.Alloc,
				"sys_bytes":   m.Sys,
			},
		}
	})

	pipeline := processor.NewPipeline(processor.Dependencies{
		Guard:    guard,
		Resolver: templates.NewResolver(registry),
		Engine:   engine,
		LLM:      model,
		Dataset:  postgresEngine,
		Cache:    rdb,
		History:  store,
		Logger:   logger.Named("pipeline"),
		Metrics:  metrics,
	}, processor.Options{
		CacheTTL:         cfg.Query.CacheTTL,
		SummaryRowLimit:  cfg.Query.SummaryRowLimit,
		MaxQuestionRunes: cfg.Query.MaxQuestionRunes,
		Timeout:          cfg.Query.Timeout,
	})

	authManager, err := auth.NewAuthManager(auth.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		RateLimit:      cfg.Auth.RateLimit,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		AdminPassword:  cfg.Auth.AdminPassword,
	}, limiter)
	if err != nil {
		log.Fatal("Failed to initialize authentication:", err)
	}
	authManager.SetLogger(logger.Named("auth"))

	server := processor.NewServer(pipeline)
	server.SetHealthChecker(healthChecker)
	if sessions != nil {
		server.SetSessions(sessions)
	}

	router := server.SetupRoutes(authManager)
	auth.NewAuthHandlers(authManager).SetupRoutes(router.Group("/api/v1", authManager.Middleware()))

	go pruneExpiredKeys(authManager, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Query processor starting", map[string]interface{}{
			"port":     cfg.Server.Port,
			"version":  version,
			"table":    cfg.Dataset.Table,
			"llm":      pipeline.LanguageModelAvailable(),
			"cache":    rdb != nil,
			"history":  store != nil,
			"provider": cfg.LLM.Provider,
			"key_from": loader.Source(ctx, cfg.LLMAPIKeyName()),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Graceful shutdown failed", err, nil)
	}
}

func llmConfig(cfg *config.Config) llm.Config {
	c := llm.Config{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLMAPIKey(),
		Timeout:   cfg.LLM.Timeout,
		MaxTokens: cfg.LLM.MaxTokens,
		Retry:     llm.DefaultRetryConfig,
	}
	c.Retry.MaxRetries = cfg.LLM.MaxRetries

	if cfg.LLM.Provider == llm.ProviderAnthropic {
		c.BaseURL = cfg.LLM.AnthropicBaseURL
		c.ModelSQL = cfg.LLM.AnthropicModelSQL
		c.ModelText = cfg.LLM.AnthropicModelText
	} else {
		c.BaseURL = cfg.LLM.OpenAIBaseURL
		c.ModelSQL = cfg.LLM.OpenAIModelSQL
		c.ModelText = cfg.LLM.OpenAIModelText
	}
	return c
}

func pruneExpiredKeys(am *auth.AuthManager, logger *observability.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		if n := am.PruneExpiredKeys(); n > 0 {
			logger.Info(context.Background(), "Pruned expired API keys", map[string]interface{}{"count": n})
		}
	}
}
