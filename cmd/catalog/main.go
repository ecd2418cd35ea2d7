package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opencatalog/catalog/internal/access"
	"github.com/opencatalog/catalog/internal/app"
	"github.com/opencatalog/catalog/internal/auth"
	"github.com/opencatalog/catalog/internal/authz"
	"github.com/opencatalog/catalog/internal/datasets"
	"github.com/opencatalog/catalog/internal/moderation"
	"github.com/opencatalog/catalog/internal/observability"
	"github.com/opencatalog/catalog/internal/platform/cache"
	"github.com/opencatalog/catalog/internal/platform/db"
	"github.com/opencatalog/catalog/internal/probe"
	"github.com/opencatalog/catalog/internal/shared"
	"github.com/opencatalog/catalog/internal/showcases"
	"github.com/opencatalog/catalog/internal/tags"
	"github.com/opencatalog/catalog/internal/users"
	"github.com/opencatalog/catalog/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Info("test mode enabled, skipping server start")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	dbpool, err := db.New(ctx, db.Options{
		DSN:             cfg.PGDSN,
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		MaxConnLifetime: cfg.PGMaxConnLifetime,
		ApplicationName: "catalog-api",
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	recorder := shared.NewApprovalRecorder(logger)

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService)

	authService := auth.NewService(usersRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	accessService := access.NewService(access.NewRepository(dbpool, recorder), logger)
	accessService.SetObserver(metrics)
	grantCache := access.NewGrantCache(redisClient, accessService, cfg.GrantCacheTTL, logger)
	accessService.SetInvalidator(grantCache)
	accessHandler := access.NewHandler(logger, accessService)

	builder := authz.NewBuilder(usersService, grantCache, logger)

	moderationRepo := moderation.NewRepository(dbpool, recorder)
	machine := moderation.NewMachine(moderationRepo, logger, metrics)
	moderationHandler := moderation.NewHandler(logger, machine, moderationRepo)

	probePool := probe.NewPool(probe.NewHTTPProber(nil), cfg.ProbeConcurrency, cfg.ProbeTimeout, logger)
	probePool.SetObserver(metrics)

	datasetsService := datasets.NewService(datasets.NewRepository(dbpool, recorder), machine, probePool, logger)
	datasetsHandler := datasets.NewHandler(logger, datasetsService)

	tagsService := tags.NewService(tags.NewRepository(dbpool, recorder), machine, logger)
	tagsHandler := tags.NewHandler(logger, tagsService)

	showcasesService := showcases.NewService(showcases.NewRepository(dbpool, recorder), machine, logger)
	showcasesHandler := showcases.NewHandler(logger, showcasesService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		Builder:           builder,
		Metrics:           metrics,
		AuthHandler:       authHandler,
		UsersHandler:      usersHandler,
		DatasetsHandler:   datasetsHandler,
		TagsHandler:       tagsHandler,
		ShowcasesHandler:  showcasesHandler,
		ModerationHandler: moderationHandler,
		AccessHandler:     accessHandler,
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
