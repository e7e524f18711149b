package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/config"
	cronrunner "github.com/NikKowPHP/meetup/internal/cron"
	"github.com/NikKowPHP/meetup/internal/db"
	"github.com/NikKowPHP/meetup/internal/handler"
	"github.com/NikKowPHP/meetup/internal/logger"
	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/pipeline"
	"github.com/NikKowPHP/meetup/internal/report"
	gormrepository "github.com/NikKowPHP/meetup/internal/repository/gorm"
	"github.com/NikKowPHP/meetup/internal/seen"
	"github.com/NikKowPHP/meetup/internal/service"
	"github.com/NikKowPHP/meetup/internal/source"
	"github.com/NikKowPHP/meetup/internal/stream"

	_ "github.com/NikKowPHP/meetup/docs"
)

func main() {
	cfgPath := os.Getenv("MEETUP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MEETUP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, "ingestor")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	seenCache, err := seen.New(cfg.SeenCache)
	if err != nil {
		logger.Fatal("seen cache init failed", zap.Error(err))
	}
	if rc, ok := seenCache.(*seen.Redis); ok {
		defer rc.Close()
	}

	metrics := report.NewMetrics()
	reporter := buildReporter(cfg.Alerts, metrics, logger)
	hub := stream.NewHub(logger)
	metrics.Registry().MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meetup",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Connected event stream subscribers",
		}, func() float64 { return float64(hub.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "meetup",
			Subsystem: "stream",
			Name:      "dropped_total",
			Help:      "Events dropped for slow stream subscribers",
		}, func() float64 { return float64(hub.Dropped()) }),
	)
	sources := source.Build(cfg.Sources, cfg.Pipeline, logger)
	orchestrator := &pipeline.Orchestrator{
		Sources:  sources,
		Gate:     &pipeline.Gate{Store: store, Seen: seenCache, Logger: logger},
		Reporter: reporter,
		Logger:   logger,
		Switches: settingsSvc,
		States:   store,
		Hub:      hub,
		Options: pipeline.Options{
			SourceTimeout: cfg.Pipeline.SourceTimeout,
			Concurrency:   cfg.Pipeline.Concurrency,
			Retries:       cfg.Pipeline.Retries,
			RetryBackoff:  cfg.Pipeline.RetryBackoff,
		},
	}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s.Name()))
	}
	logger.Info("sources registered", zap.Strings("sources", names))

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Sources: &service.SourceStateService{Repo: store}}
	healthHandler.Register(engine)
	eventsHandler := &handler.EventsHandler{
		Search: &service.SearchService{Repo: store, ScanBatch: cfg.Search.ScanBatch, MaxScan: cfg.Search.MaxScan},
		Query:  &service.EventQueryService{Repo: store},
		Hub:    hub,
		Logger: logger,
	}
	eventsHandler.Register(engine)
	pipelineHandler := &handler.PipelineHandler{
		Runner: orchestrator,
		States: &service.SourceStateService{Repo: store},
		Logger: logger,
	}
	pipelineHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runPipeline := func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, models.FeaturePipeline, true) {
			logger.Debug("pipeline disabled by switch")
			return
		}
		result, err := orchestrator.Run(ctx)
		if err != nil {
			logger.Error("scheduled pipeline run failed", zap.Error(err))
			return
		}
		logger.Info("scheduled pipeline run ok",
			zap.String("run_id", result.RunID),
			zap.Int("accepted", len(result.Accepted)),
		)
	}

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		if _, err := cronRunner.Add(cfg.Cron.Pipeline, runPipeline); err != nil {
			logger.Fatal("invalid pipeline schedule", zap.String("spec", cfg.Cron.Pipeline), zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}
	if cfg.Cron.RunOnStart {
		go runPipeline(ctx)
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// buildReporter always logs; alerts go to the webhook when one is configured,
// throttled per source and error kind.
func buildReporter(cfg config.AlertsConfig, metrics *report.Metrics, logger *zap.Logger) report.Reporter {
	reporters := report.Multi{report.Log{Logger: logger}, metrics}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		webhook := report.Webhook{URL: url, HTTP: &http.Client{Timeout: timeout}, Logger: logger}
		reporters = append(reporters, report.NewThrottled(webhook, cfg.Throttle))
	}
	return reporters
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
