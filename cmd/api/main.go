package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/timebloom/backend/internal/api/handlers"
	"github.com/timebloom/backend/internal/artifact"
	"github.com/timebloom/backend/internal/cache/redis"
	"github.com/timebloom/backend/internal/matcher"
	"github.com/timebloom/backend/internal/metrics"
	"github.com/timebloom/backend/internal/middleware/ratelimit"
	"github.com/timebloom/backend/internal/middleware/security"
	"github.com/timebloom/backend/internal/middleware/validation"
	"github.com/timebloom/backend/internal/ml"
	"github.com/timebloom/backend/internal/predictor"
	"github.com/timebloom/backend/internal/recommend"
	"github.com/timebloom/backend/internal/storage/sqlite"
	"github.com/timebloom/backend/pkg/config"
	appLogger "github.com/timebloom/backend/pkg/logger"
	"github.com/timebloom/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath,
		zap.String("service", "timebloom-api"),
	)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting TimeBloom API Server")

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

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var backend artifact.Store
	switch cfg.Artifacts.Backend {
	case "redis":
		backend = redisClient
	case "memory":
		backend = artifact.NewMemoryStore()
	default:
		backend = sqliteClient
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Artifacts.RetryAttempts
	retryCfg.InitialDelay = time.Duration(cfg.Artifacts.RetryDelayMS) * time.Millisecond

	artifacts := artifact.NewResilient(backend, artifact.ResilientConfig{
		Name:             "artifacts-" + cfg.Artifacts.Backend,
		FailureThreshold: cfg.Artifacts.BreakerFailures,
		OpenTimeout:      time.Duration(cfg.Artifacts.BreakerTimeoutSec) * time.Second,
		Retry:            retryCfg,
		Logger:           appLogger.Named("artifacts"),
	})

	loc := cfg.ML.Location()

	forest := ml.DefaultForestConfig()
	forest.Trees = cfg.ML.Trees
	forest.MaxDepth = cfg.ML.MaxDepth
	forest.MinSamplesLeaf = cfg.ML.MinSamplesLeaf
	forest.Seed = cfg.ML.Seed

	productivity := predictor.New(artifacts, predictor.Options{
		Forest:   forest,
		TopSlots: cfg.ML.TopSlots,
		Location: loc,
	})

	var scoreStore artifact.Store
	if cfg.Artifacts.PersistScores {
		scoreStore = artifacts
	}
	scorer := matcher.New(scoreStore, loc)

	engineOpts := recommend.Options{
		Window:   cfg.ML.Window(),
		Location: loc,
		Runs:     sqliteClient,
		CacheTTL: time.Duration(cfg.Cache.TTLSec) * time.Second,
	}
	if cfg.Cache.Enabled {
		engineOpts.Cache = redisClient
	}
	engine := recommend.NewEngine(sqliteClient, productivity, scorer, engineOpts)

	app := fiber.New(fiber.Config{
		AppName:      "TimeBloom API",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:                cfg.RateLimit.Burst,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.Development}))

	activityHandler := handlers.NewActivityHandler(engine, sqliteClient)
	taskHandler := handlers.NewTaskHandler(sqliteClient)
	recommendationHandler := handlers.NewRecommendationHandler(engine)
	modelHandler := handlers.NewModelHandler(productivity, sqliteClient)

	api := app.Group("/api/v1")

	api.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to TimeBloom API",
		})
	})

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		checks := fiber.Map{}
		ready := true

		if err := sqliteClient.Ping(c.UserContext()); err != nil {
			checks["sqlite"] = err.Error()
			ready = false
		} else {
			checks["sqlite"] = "ok"
		}

		if redisClient != nil {
			if err := redisClient.Ping(c.UserContext()); err != nil {
				checks["redis"] = err.Error()
				ready = false
			} else {
				checks["redis"] = "ok"
			}
		}

		checks["artifacts_breaker"] = artifacts.State().String()

		if !ready {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"checks": checks,
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
			"checks": checks,
		})
	})

	api.Get("/metrics", metrics.MetricsHandler())

	v := api.Group("", validation.Middleware(validation.Config{
		MaxBodySize: cfg.Server.BodyLimit,
		Logger:      appLogger.Named("validation"),
	}), rateLimiter.Middleware())

	v.Post("/tasks", taskHandler.CreateTask)
	v.Get("/tasks/:user_id", taskHandler.GetUserTasks)
	v.Post("/tasks/:task_id/complete", taskHandler.CompleteTask)

	v.Post("/activity", activityHandler.LogActivity)
	v.Get("/activity/:user_id", activityHandler.GetUserActivity)

	v.Get("/recommendations/:user_id", recommendationHandler.GetRecommendations)

	v.Get("/models/status", modelHandler.GetStatus)

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
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
