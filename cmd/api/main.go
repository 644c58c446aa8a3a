package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coder-judge-api/internal/config"
	"github.com/noah-isme/coder-judge-api/internal/database"
	"github.com/noah-isme/coder-judge-api/internal/dispatch"
	"github.com/noah-isme/coder-judge-api/internal/handler"
	"github.com/noah-isme/coder-judge-api/internal/middleware"
	"github.com/noah-isme/coder-judge-api/internal/observability"
	"github.com/noah-isme/coder-judge-api/internal/repository"
	"github.com/noah-isme/coder-judge-api/internal/router"
	"github.com/noah-isme/coder-judge-api/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv != "production" {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	observability.RegisterMetrics()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(rootCtx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, statistics will not be cached")
			redisClient = nil
		} else {
			defer redisClient.Close()
			client := redisClient
			probes["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
		conn := natsConn
		probes["nats"] = func(context.Context) error {
			if !conn.IsConnected() {
				return nats.ErrConnectionClosed
			}
			return nil
		}
	}

	var judge dispatch.Judge
	if natsConn != nil {
		judge = dispatch.NewNATSJudge(natsConn, cfg.JudgeDispatchSubject())
	} else {
		logger.Warn().Msg("nats url not configured, dispatch jobs will only be logged")
		judge = dispatch.NewLogJudge(logger)
	}

	pool := dispatch.NewPool(judge, dispatch.PoolConfig{
		Workers:     cfg.DispatchWorkers,
		QueueSize:   cfg.DispatchQueueSize,
		MaxAttempts: cfg.DispatchMaxAttempts,
		BackoffBase: cfg.DispatchBackoffBase,
		BackoffMax:  cfg.DispatchBackoffMax,
		Timeout:     cfg.DispatchTimeout,
	}, logger)
	pool.Start(rootCtx)

	validate := validator.New(validator.WithRequiredStructEnabled())

	submissionRepo := repository.NewSubmissionRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	submissionService := service.NewSubmissionService(submissionRepo, catalogRepo, pool, redisClient, validate, service.SubmissionServiceConfig{
		RejectFinalized: cfg.ResultPolicy == config.ResultPolicyReject,
		StatsCacheTTL:   cfg.StatsCacheTTL,
	}, logger)

	if natsConn != nil {
		consumer, err := service.NewResultConsumer(submissionService, natsConn, cfg.JudgeResultSubject(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build judge result consumer")
		}
		if err := consumer.Start(rootCtx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start judge result consumer")
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, SkipPaths: []string{"/metrics"}})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler:       handler.NewSubmissionHandler(submissionService, logger),
		SubmissionStreamHandler: handler.NewSubmissionStreamHandler(submissionService, logger),
		JWTMiddleware:           middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:            probes,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(rootCtx, app, pool, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, pool *dispatch.Pool, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	pool.Stop()
	logger.Info().Msg("server stopped")
}
