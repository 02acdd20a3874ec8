package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/verification-service/internal/api/http"
	"github.com/spec-kit/verification-service/internal/api/http/handlers"
	"github.com/spec-kit/verification-service/internal/auth"
	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/events"
	"github.com/spec-kit/verification-service/internal/facematch"
	"github.com/spec-kit/verification-service/internal/observability"
	"github.com/spec-kit/verification-service/internal/persistence"
	"github.com/spec-kit/verification-service/internal/repository"
	"github.com/spec-kit/verification-service/internal/search"
	"github.com/spec-kit/verification-service/internal/service"
	"github.com/spec-kit/verification-service/internal/storage"
	"github.com/spec-kit/verification-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics(nil)
	dispatcher := events.NewInMemoryDispatcher()

	// Without a DSN the service runs fully in-memory, which is enough for
	// local development against MinIO and the face match stub.
	pool := pg.PoolHandle()
	var (
		submissionRepo repository.SubmissionRepository
		userRepo       repository.UserRepository
	)
	if pool != nil {
		submissionRepo = repository.NewSubmissionRepository(pool)
		userRepo = repository.NewUserRepository(pool)
	} else {
		logger.Warn("running with in-memory repositories")
		submissionRepo = repository.NewInMemorySubmissionRepository()
		userRepo = repository.NewInMemoryUserRepository()
	}

	store, err := storage.NewObjectStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to init object storage", zap.Error(err))
	}

	matcher := facematch.NewClient(cfg.FaceMatch, logger, metrics)

	indexer := search.NewIndexer(cfg.Search, dispatcher, logger, metrics)
	indexer.RegisterHandlers()

	authService := service.NewAuthService(*cfg, userRepo)
	submissionService := service.NewSubmissionService(*cfg, service.SubmissionDependencies{
		SubmissionRepo: submissionRepo,
		Store:          store,
		Cache:          redis,
		Dispatcher:     dispatcher,
		Logger:         logger,
	})

	hostname, _ := os.Hostname()
	verificationService := service.NewVerificationService(*cfg, service.VerificationDependencies{
		SubmissionRepo: submissionRepo,
		Fetcher:        store,
		Matcher:        matcher,
		Dispatcher:     dispatcher,
		Logger:         logger,
		Metrics:        metrics,
		Owner:          hostname,
	})

	verificationWorker := worker.NewVerificationWorker(*cfg, submissionRepo, verificationService, logger)
	go verificationWorker.Start(ctx)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Submissions:    handlers.NewSubmissionsHandler(submissionService, verificationService),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	_ = app.Shutdown()
	dispatcher.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
