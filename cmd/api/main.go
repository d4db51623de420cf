package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/acm-research/backend/internal/api/handlers"
	"github.com/acm-research/backend/internal/cache/redis"
	"github.com/acm-research/backend/internal/jobs"
	"github.com/acm-research/backend/internal/llm"
	"github.com/acm-research/backend/internal/llm/claude"
	"github.com/acm-research/backend/internal/llm/gpt"
	"github.com/acm-research/backend/internal/llm/ollama"
	"github.com/acm-research/backend/internal/metrics"
	"github.com/acm-research/backend/internal/middleware/auth"
	"github.com/acm-research/backend/internal/middleware/security"
	"github.com/acm-research/backend/internal/middleware/validation"
	"github.com/acm-research/backend/internal/nightly"
	"github.com/acm-research/backend/internal/orchestrator"
	"github.com/acm-research/backend/internal/sources"
	"github.com/acm-research/backend/internal/sources/openalex"
	"github.com/acm-research/backend/internal/sources/patents"
	"github.com/acm-research/backend/internal/sources/pubmed"
	"github.com/acm-research/backend/internal/storage/sqlite"
	"github.com/acm-research/backend/pkg/config"
	appLogger "github.com/acm-research/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ACM Research Platform API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Redis is optional: search caching and rate limiting degrade
	// gracefully when it is missing.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	sourceTimeout := time.Duration(cfg.Sources.TimeoutSec) * time.Second
	sourceRegistry := sources.NewRegistry(
		openalex.NewClient(cfg.Sources.OpenAlex.APIKey, cfg.Sources.MailTo, sourceTimeout, redisClient),
		pubmed.NewClient(cfg.Sources.PubMed.APIKey, sourceTimeout, redisClient),
		patents.NewClient(cfg.Sources.Patents.APIKey, sourceTimeout, redisClient),
	)

	var providers []llm.Provider
	var refiner llm.Provider

	if cfg.LLM.Anthropic.APIKey != "" {
		claudeClient := claude.NewClient(
			cfg.LLM.Anthropic.APIKey,
			cfg.LLM.Anthropic.Model,
			cfg.LLM.Anthropic.MaxTokens,
			cfg.LLM.Anthropic.Temperature,
			time.Duration(cfg.LLM.Anthropic.TimeoutSec)*time.Second,
		)
		providers = append(providers, claudeClient)
		refiner = claudeClient
	} else {
		appLogger.Warn("Anthropic API key not set, claude disabled and refinement skipped")
	}

	if cfg.LLM.OpenAI.APIKey != "" {
		providers = append(providers, gpt.NewClient(
			cfg.LLM.OpenAI.APIKey,
			cfg.LLM.OpenAI.Model,
			cfg.LLM.OpenAI.MaxTokens,
			cfg.LLM.OpenAI.Temperature,
			time.Duration(cfg.LLM.OpenAI.TimeoutSec)*time.Second,
		))
	} else {
		appLogger.Warn("OpenAI API key not set, gpt4 disabled")
	}

	providers = append(providers, ollama.NewClient(
		cfg.LLM.Ollama.BaseURL,
		cfg.LLM.Ollama.Model,
		cfg.LLM.Ollama.MaxTokens,
		time.Duration(cfg.LLM.Ollama.TimeoutSec)*time.Second,
	))

	modelRegistry := llm.NewRegistry(providers...)

	broadcaster := orchestrator.NewBroadcaster()

	engine := orchestrator.NewOrchestrator(
		sqliteClient,
		redisClient,
		sourceRegistry,
		modelRegistry,
		refiner,
		broadcaster,
		orchestrator.Options{
			MaxResults:     cfg.Sources.MaxResults,
			QueriesPerHour: cfg.RateLimit.QueriesPerHour,
		},
	)

	nightlyAgent := nightly.NewAgent(sqliteClient, sourceRegistry, refiner, nightly.Options{
		TopicLimit:   cfg.Nightly.TopicLimit,
		SearchLimit:  cfg.Nightly.SearchLimit,
		LookbackDays: cfg.Nightly.LookbackDays,
	})

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()

	scheduler := jobs.NewScheduler(redisClient)
	nightlyHour := cfg.Nightly.RunHour
	scheduler.Register(jobs.Job{
		Name:        handlers.NightlyJobName,
		Description: "Builds the daily research digest from recent query topics",
		AtHour:      &nightlyHour,
		Fn: func(ctx context.Context) error {
			_, err := nightlyAgent.Run(ctx)
			return err
		},
	})
	if cfg.Nightly.Enabled {
		scheduler.Start(schedulerCtx)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Development,
	}))

	queryHandler := handlers.NewQueryHandler(engine, cfg.Server.Development)
	digestHandler := handlers.NewDigestHandler(sqliteClient, scheduler)
	sourceHandler := handlers.NewSourceHandler(sourceRegistry)
	wsHandler := handlers.NewWebSocketHandler(broadcaster)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	userAPI := api.Group("", auth.RequireUser())
	userAPI.Post("/query", validation.Middleware(validation.Config{}), queryHandler.SubmitQuery)
	userAPI.Get("/query/history", queryHandler.GetQueryHistory)
	userAPI.Get("/query/:id", queryHandler.GetQuery)
	userAPI.Get("/query/:id/cost", queryHandler.GetQueryCost)
	userAPI.Get("/costs", queryHandler.GetUserCosts)
	userAPI.Get("/digests", digestHandler.ListDigests)
	userAPI.Get("/sources/:source/items/:id", sourceHandler.GetItem)

	api.Post("/admin/nightly", auth.RequireAdmin(cfg.Admin.Token), digestHandler.AdminNightly)

	api.Use("/ws/status", auth.RequireUser(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/status", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopScheduler()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
