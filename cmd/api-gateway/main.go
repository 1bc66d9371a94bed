package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/clinedtrack/attendance-api/api/swagger"
	"github.com/clinedtrack/attendance-api/internal/handler"
	"github.com/clinedtrack/attendance-api/internal/middleware"
	"github.com/clinedtrack/attendance-api/internal/models"
	"github.com/clinedtrack/attendance-api/internal/repository"
	"github.com/clinedtrack/attendance-api/internal/service"
	"github.com/clinedtrack/attendance-api/internal/validation"
	"github.com/clinedtrack/attendance-api/pkg/breaker"
	"github.com/clinedtrack/attendance-api/pkg/cache"
	"github.com/clinedtrack/attendance-api/pkg/config"
	"github.com/clinedtrack/attendance-api/pkg/database"
	"github.com/clinedtrack/attendance-api/pkg/geocrypt"
	"github.com/clinedtrack/attendance-api/pkg/logger"
	corsmiddleware "github.com/clinedtrack/attendance-api/pkg/middleware/cors"
	reqidmiddleware "github.com/clinedtrack/attendance-api/pkg/middleware/requestid"
)

// @title Clinical Attendance API
// @version 1.0.0
// @description Time and attendance integrity service for clinical education
// @BasePath /api/v1
// @schemes http
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	geo, err := geocrypt.New(cfg.Geo.KeyHex, cfg.Env, logr)
	if err != nil {
		logr.Fatal("failed to init geolocation encryption", zap.Error(err))
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}, logr)

	attendanceRepo := repository.NewAttendanceRepository(db)
	syncRepo := repository.NewSyncRepository(db)
	statusCache := repository.NewStatusCache(redisClient)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)
	timeSyncSvc := service.NewTimeSyncService(syncRepo, cfg.Sync.MaxLoggedDriftMs, logr)

	reconSvc := service.NewReconciliationService(syncRepo, breakers, metricsSvc, logr, cfg.Reconciliation)

	clockSvc := service.NewClockService(service.ClockServiceDeps{
		Repo:     attendanceRepo,
		TimeSync: timeSyncSvc,
		Rules:    validation.NewEngine(logr),
		Breakers: breakers,
		Recon:    reconSvc,
		Geo:      geo,
		Cache:    statusCache,
		CacheTTL: cfg.Sync.StatusCacheTTL,
		Metrics:  metricsSvc,
		Logger:   logr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconSvc.Start(ctx)
	defer reconSvc.Stop()

	go publishBreakerStates(ctx, breakers, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	clockHandler := handler.NewClockHandler(clockSvc)
	breakerHandler := handler.NewBreakerHandler(breakers)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokenSvc))

	clock := api.Group("/clock")
	{
		clock.POST("/in", clockHandler.ClockIn)
		clock.POST("/sync-in", clockHandler.SyncClockIn)
		clock.POST("/out", clockHandler.ClockOut)
		clock.GET("/status", clockHandler.Status)
	}

	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/breakers", breakerHandler.Stats)
		admin.POST("/breakers/reset", breakerHandler.ResetAll)
		admin.POST("/breakers/:name/reset", breakerHandler.Reset)
		admin.POST("/breakers/:name/force-open", breakerHandler.ForceOpen)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// publishBreakerStates mirrors breaker positions into the state gauge so
// dashboards can alert on open circuits.
func publishBreakerStates(ctx context.Context, breakers *breaker.Registry, metrics *service.MetricsService) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, stats := range breakers.Stats() {
				metrics.SetBreakerState(name, stats.State)
			}
		}
	}
}
