package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/followup-api/api/swagger"
	"github.com/noah-isme/followup-api/internal/handler"
	internalmiddleware "github.com/noah-isme/followup-api/internal/middleware"
	"github.com/noah-isme/followup-api/internal/repository"
	"github.com/noah-isme/followup-api/internal/service"
	"github.com/noah-isme/followup-api/pkg/cache"
	"github.com/noah-isme/followup-api/pkg/config"
	"github.com/noah-isme/followup-api/pkg/database"
	"github.com/noah-isme/followup-api/pkg/delivery"
	"github.com/noah-isme/followup-api/pkg/events"
	"github.com/noah-isme/followup-api/pkg/export"
	"github.com/noah-isme/followup-api/pkg/jobs"
	"github.com/noah-isme/followup-api/pkg/linktoken"
	"github.com/noah-isme/followup-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/followup-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/followup-api/pkg/middleware/requestid"
)

// @title Follow-up Questionnaire API
// @version 1.0.0
// @description Questionnaire dispatch, patient responses and critical-score triage.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, "followup")
	defer cacheRepo.Close() //nolint:errcheck

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logr.Named("events"))
	}
	defer publisher.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, redisClient != nil)

	questionnaireRepo := repository.NewQuestionnaireRepository(db)
	dispatchRepo := repository.NewDispatchRepository(db)
	responseRepo := repository.NewResponseRepository(db)
	resolutionRepo := repository.NewResolutionRepository(db)

	sender := delivery.NewClient(delivery.Config{
		BaseURL: cfg.Delivery.BaseURL,
		APIKey:  cfg.Delivery.APIKey,
		Timeout: cfg.Delivery.Timeout,
		Logger:  logr.Named("delivery"),
	})
	links := linktoken.NewSigner(cfg.Links.Secret, cfg.Links.TTL)
	threshold := cfg.Alerts.CriticalThreshold

	authSvc := service.NewAuthService(cfg.JWT, logr)
	questionnaireSvc := service.NewQuestionnaireService(questionnaireRepo, validate, logr)
	dispatchSvc := service.NewDispatchService(dispatchRepo, questionnaireRepo, sender, links, publisher, cacheSvc, metricsSvc, validate, logr, service.DispatchServiceConfig{
		MaxRecipients:    cfg.Dispatch.MaxRecipients,
		DefaultDelayDays: cfg.Dispatch.DefaultDelayDays,
		LinkBaseURL:      cfg.Links.BaseURL,
	})
	responseSvc := service.NewResponseService(dispatchRepo, responseRepo, links, publisher, cacheSvc, metricsSvc, validate, logr, threshold)
	alertSvc := service.NewAlertService(responseRepo, resolutionRepo, logr, threshold)
	resolutionSvc := service.NewResolutionService(responseRepo, resolutionRepo, publisher, cacheSvc, logr, threshold)
	dashboardSvc := service.NewDashboardService(dispatchRepo, responseRepo, resolutionRepo, cacheSvc, logr, service.DashboardServiceConfig{
		CacheTTL:  cfg.Dashboard.CacheTTL,
		Threshold: threshold,
	})
	exportSvc := service.NewExportService(alertSvc, export.NewCSVExporter(), export.NewPDFExporter(), logr)

	var dispatchQueue *jobs.Queue
	if cfg.Scheduler.Enabled {
		worker := service.NewDispatchWorker(dispatchRepo, sender, links, publisher, cacheSvc, metricsSvc, logr.Named("scheduler"), service.DispatchWorkerConfig{
			SweepInterval: cfg.Scheduler.SweepInterval,
			BatchSize:     cfg.Scheduler.BatchSize,
			RetentionDays: cfg.Dispatch.RetentionDays,
			LinkBaseURL:   cfg.Links.BaseURL,
		})
		dispatchQueue = jobs.NewQueue("dispatch", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Scheduler.Workers,
			MaxRetries: cfg.Scheduler.MaxRetries,
			RetryDelay: cfg.Scheduler.RetryDelay,
			Logger:     logr.Named("jobs"),
			OnGiveUp:   worker.OnGiveUp,
		})
		dispatchQueue.Start(ctx)
		worker.AttachQueue(dispatchQueue)
		worker.StartSweeper(ctx)
	}

	questionnaireHandler := handler.NewQuestionnaireHandler(questionnaireSvc)
	dispatchHandler := handler.NewDispatchHandler(dispatchSvc)
	alertHandler := handler.NewAlertHandler(alertSvc, exportSvc, resolutionSvc)
	publicHandler := handler.NewPublicFormHandler(responseSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": handler.PingFunc(db.PingContext),
		"redis":    cacheRepo,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	public := api.Group("/public/forms")
	public.GET("/:token", publicHandler.Form)
	public.POST("/:token/responses", publicHandler.Submit)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc), internalmiddleware.Practitioner())

	secured.POST("/questionnaires", questionnaireHandler.Create)
	secured.GET("/questionnaires", questionnaireHandler.List)
	secured.GET("/questionnaires/:id", questionnaireHandler.Get)
	secured.PUT("/questionnaires/:id", questionnaireHandler.Update)

	secured.POST("/dispatches", dispatchHandler.Create)
	secured.GET("/dispatches", dispatchHandler.List)
	secured.GET("/dispatches/:id", dispatchHandler.Get)
	secured.POST("/dispatches/:id/link", dispatchHandler.IssueLink)

	secured.GET("/alerts", alertHandler.List)
	secured.GET("/alerts/export", alertHandler.Export)
	secured.GET("/alerts/:responseId/resolution", alertHandler.GetResolution)
	secured.POST("/alerts/:responseId/take-action", alertHandler.TakeAction)
	secured.POST("/alerts/:responseId/resolve", alertHandler.Resolve)

	secured.GET("/dashboard/summary", dashboardHandler.Summary)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "scheduler", cfg.Scheduler.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdown(srv, dispatchQueue, logr)
}

func shutdown(srv *http.Server, queue *jobs.Queue, logr *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logr.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
	if queue != nil {
		queue.Stop()
	}
}
