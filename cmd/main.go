package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/famlink-backend/internal/clients/interpreter"
	"github.com/yungbote/famlink-backend/internal/clients/redisgate"
	dataagg "github.com/yungbote/famlink-backend/internal/data/aggregates"
	"github.com/yungbote/famlink-backend/internal/data/db"
	"github.com/yungbote/famlink-backend/internal/data/repos"
	"github.com/yungbote/famlink-backend/internal/domain/checkins"
	httpx "github.com/yungbote/famlink-backend/internal/http"
	httpH "github.com/yungbote/famlink-backend/internal/http/handlers"
	httpMW "github.com/yungbote/famlink-backend/internal/http/middleware"
	jobhandlers "github.com/yungbote/famlink-backend/internal/jobs/handlers"
	"github.com/yungbote/famlink-backend/internal/jobs/runtime"
	"github.com/yungbote/famlink-backend/internal/jobs/scheduler"
	"github.com/yungbote/famlink-backend/internal/jobs/worker"
	"github.com/yungbote/famlink-backend/internal/observability"
	"github.com/yungbote/famlink-backend/internal/platform/envutil"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

func main() {
	// .env is optional; container environments set real variables.
	_ = godotenv.Load()

	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Observability
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "famlink-backend",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	metrics := observability.Init(log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	if err := db.EnsureDomainIndexes(thePG); err != nil {
		log.Error("Domain index setup failed", "error", err)
		os.Exit(1)
	}

	// Redis-backed request gate + interpreter
	gateStore, err := redisgate.NewStore(log)
	if err != nil {
		log.Error("Could not init redis gate", "error", err)
		os.Exit(1)
	}
	aiClient, err := interpreter.NewClient(log)
	if err != nil {
		log.Error("Could not init interpreter client", "error", err)
		os.Exit(1)
	}

	// Repos
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	familyRepo := repos.NewFamilyRepo(thePG, log)
	parentRepo := repos.NewParentRepo(thePG, log)
	childRepo := repos.NewChildRepo(thePG, log)
	translationRepo := repos.NewTranslationRecordRepo(thePG, log)
	sessionRepo := repos.NewCheckInSessionRepo(thePG, log)
	reportRepo := repos.NewWeeklyReportRepo(thePG, log)
	jobRunRepo := repos.NewJobRunRepo(thePG, log)

	// Aggregate runners share one event store and observability hooks.
	eventStore := dataagg.NewEventStore(thePG, log)
	listeners := dataagg.NewListenerRegistry()
	listeners.Register(dataagg.NewMetricsListener(metrics))
	runnerDeps := dataagg.BaseDeps{DB: thePG, Log: log, Hooks: dataagg.NewObservabilityHooks(metrics), Listeners: listeners}
	familyRunner := dataagg.NewFamilyRunner(runnerDeps, eventStore)
	sessionRunner := dataagg.NewSessionRunner(runnerDeps, eventStore)

	// Question banks fail fast on a broken bank file.
	banks, err := checkins.LoadBanks()
	if err != nil {
		log.Error("Could not load check-in question banks", "error", err)
		os.Exit(1)
	}

	// Services
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, services.AuthConfigFromEnv())
	familyService := services.NewFamilyService(log, familyRunner, familyRepo, parentRepo, childRepo, userRepo, translationRepo)
	translationService := services.NewTranslationService(log, familyRunner, gateStore, aiClient, services.TranslateOptionsFromEnv())
	checkInService := services.NewCheckInService(log, sessionRunner, familyRepo, parentRepo, childRepo, sessionRepo, banks)
	reportService := services.NewReportService(log, familyRunner, familyRepo, parentRepo, childRepo, sessionRepo, translationRepo, reportRepo, jobRunRepo, aiClient)
	chartService, err := services.NewChartService(log, familyRepo, sessionRepo)
	if err != nil {
		log.Error("Could not init chart service", "error", err)
		os.Exit(1)
	}

	// Background jobs
	registry := runtime.NewRegistry()
	for _, h := range []runtime.Handler{
		jobhandlers.NewCheckInSchedule(log, checkInService),
		jobhandlers.NewCheckInSweep(log, checkInService),
		jobhandlers.NewWeeklyReports(log, reportService),
		jobhandlers.NewReportRecommendations(log, reportService),
	} {
		if err := registry.Register(h); err != nil {
			log.Error("Job handler registration failed", "error", err)
			os.Exit(1)
		}
	}
	worker.NewWorker(thePG, log, jobRunRepo, registry).Start(ctx)
	scheduler.NewScheduler(thePG, log, familyRepo, jobRunRepo).Start(ctx)

	// Metrics server + collectors run only when metrics are enabled.
	if metrics != nil {
		metrics.StartServer(ctx, log, envutil.String("METRICS_ADDR", ""))
		metrics.StartPostgresCollector(ctx, log, thePG)
		metrics.StartRedisCollector(ctx, log, envutil.String("REDIS_ADDR", ""))
		metrics.StartJobQueueCollector(ctx, log, thePG)
		metrics.StartProjectionDriftCollector(ctx, log, thePG)
		metrics.StartSLOEvaluator(ctx, log)
	}

	// Router
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		AuthHandler:    httpH.NewAuthHandler(authService),
		AuthMiddleware: httpMW.NewAuthMiddleware(log, authService),
		FamilyHandler:  httpH.NewFamilyHandler(log, familyService),
		MessageHandler: httpH.NewMessageHandler(log, translationService),
		CheckInHandler: httpH.NewCheckInHandler(log, checkInService),
		ReportHandler:  httpH.NewReportHandler(log, reportService, chartService),
		HealthHandler:  httpH.NewHealthHandler(),
	})

	port := envutil.String("PORT", "8080")
	srv := httpx.NewServer(router, ":"+port)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "port", port)
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		log.Error("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown incomplete", "error", err)
	}
	if otelShutdown != nil {
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("Trace exporter shutdown incomplete", "error", err)
		}
	}
}
