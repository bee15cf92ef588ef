package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"idverify/internal/auth"
	"idverify/internal/config"
	"idverify/internal/database"
	"idverify/internal/database/migration"
	handlers "idverify/internal/http/handler"
	"idverify/internal/http/middleware"
	"idverify/internal/imaging"
	"idverify/internal/logger"
	"idverify/internal/metrics"
	tracing "idverify/internal/otel"
	"idverify/internal/provider/awsprovider"
	"idverify/internal/repository/postgres"
	"idverify/internal/scheduler"
	"idverify/internal/service"
	"idverify/internal/steps"
	"idverify/internal/storage"
	"idverify/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET must be set")
	}

	db, err := database.NewPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	objStore, err := storage.NewMinIO(ctx, cfg.MinIO, cfg.Workflow.TTLDays)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize object storage")
	}

	awsCfg, err := awsprovider.LoadConfig(ctx, cfg.AWS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS configuration")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	workflowMetrics := metrics.New(reg)

	repo := postgres.NewVerificationPostgres(db)
	svcOpts := service.OptionsFromConfig(cfg.Workflow)

	deps := steps.Deps{
		Repo:   repo,
		Store:  objStore,
		Policy: steps.PolicyFromConfig(cfg.Workflow),
		Log:    log,
	}
	rekognition := awsprovider.NewRekognition(awsCfg)
	notifier := steps.NewNotifier(deps, awsprovider.NewSES(awsCfg, cfg.Notify.FromAddress))
	workflowOpts := workflow.OptionsFromConfig(cfg.Workflow)
	orchestrator := workflow.New(repo, workflow.Steps{
		Extract:  steps.NewExtractor(deps, awsprovider.NewTextract(awsCfg)),
		Moderate: steps.NewModerator(deps, rekognition),
		Compare:  steps.NewComparer(deps, rekognition),
		Resize:   steps.NewResizer(deps, imaging.NewResizer(svcOpts.Image)),
	},
		notifier,
		workflowOpts,
		log,
		workflowMetrics,
	)
	dispatcher := workflow.NewDispatcher(orchestrator, log)

	verificationSvc := service.NewVerificationService(objStore, repo, dispatcher, svcOpts, log)

	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register HTTP metrics")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		// Two base64 images plus envelope.
		BodyLimit: int(svcOpts.Image.MaxBytes*2*4/3) + 64*1024,
	})

	app.Use(otelfiber.Middleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	handlers.RegisterRoutes(app, db, verificationSvc, handlers.Guards{
		User:   middleware.Authenticate(auth.NewJWTServiceFromConfig(cfg.Auth)),
		Events: middleware.SharedToken(cfg.Auth.EventsToken),
	})
	app.Get("/metrics", handlers.Metrics(reg))

	var (
		sweeper *scheduler.ExpirySweeper
		reaper  *scheduler.StaleRunReaper
	)
	if cfg.Scheduler.Enabled {
		sweeper = scheduler.NewExpirySweeper(repo, objStore, cfg.Scheduler, log, workflowMetrics)
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start expiry sweeper")
		}
		reaper = scheduler.NewStaleRunReaper(repo, notifier, cfg.Scheduler, workflowOpts.RunTimeout, log, workflowMetrics)
		if err := reaper.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start stale run reaper")
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("trigger_mode", svcOpts.TriggerMode).Msg("server listening")
		serverErr <- app.Listen(addr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// In-flight runs get their full deadline before being cancelled.
	runCtx, cancelRuns := context.WithTimeout(context.Background(), workflowOpts.RunTimeout+shutdownTimeout)
	defer cancelRuns()
	if err := dispatcher.Shutdown(runCtx); err != nil {
		log.Error().Err(err).Msg("verification runs did not drain")
	}

	finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sweeper != nil {
		if err := sweeper.Stop(finalCtx); err != nil {
			log.Error().Err(err).Msg("expiry sweeper did not stop")
		}
	}
	if reaper != nil {
		if err := reaper.Stop(finalCtx); err != nil {
			log.Error().Err(err).Msg("stale run reaper did not stop")
		}
	}
	if err := shutdownTracing(finalCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
}
