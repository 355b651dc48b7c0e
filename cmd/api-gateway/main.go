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
	"go.uber.org/zap"

	_ "github.com/noah-isme/gatepass-api/api/swagger"
	"github.com/noah-isme/gatepass-api/internal/handler"
	"github.com/noah-isme/gatepass-api/internal/repository"
	"github.com/noah-isme/gatepass-api/internal/service"
	"github.com/noah-isme/gatepass-api/pkg/cache"
	"github.com/noah-isme/gatepass-api/pkg/config"
	"github.com/noah-isme/gatepass-api/pkg/database"
	"github.com/noah-isme/gatepass-api/pkg/export"
	"github.com/noah-isme/gatepass-api/pkg/jobs"
	"github.com/noah-isme/gatepass-api/pkg/logger"
	"github.com/noah-isme/gatepass-api/pkg/middleware/ratelimit"
	"github.com/noah-isme/gatepass-api/pkg/storage"
)

// @title Gate Pass API
// @version 1.0.0
// @description Campus gate pass requests, multi-stage approval and gate token redemption.
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, summary cache disabled", zap.Error(err))
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metrics := service.NewMetricsService()
	location := cfg.GatePass.Location()

	userRepo := repository.NewUserRepository(db)
	gatePassRepo := repository.NewGatePassRepository(db)
	tokenRepo := repository.NewGatePassTokenRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	auditQueue := jobs.NewQueue("audit", service.NewAuditWriter(userRepo).Handle, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: 256,
		MaxRetries: cfg.Audit.Retries,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	auditQueue.Start(ctx)
	defer auditQueue.Stop()
	auditSvc := service.NewAuditService(userRepo, auditQueue, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.GatePass.SummaryCacheTTL, logr, cfg.GatePass.SummaryCacheOn && redisClient != nil)

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	tokenSvc := service.NewTokenService(tokenRepo, gatePassRepo, db, metrics, auditSvc, logr, service.TokenConfig{
		MaxAttempts: cfg.GatePass.TokenMaxAttempts,
	})
	gatePassSvc := service.NewGatePassService(gatePassRepo, userRepo, tokenSvc, db, validate, logr,
		service.GatePassConfig{
			Location:        location,
			MinReasonLength: cfg.GatePass.MinReasonLength,
			SummaryCacheTTL: cfg.GatePass.SummaryCacheTTL,
		},
		service.WithGatePassCache(cacheSvc),
		service.WithGatePassMetrics(metrics),
		service.WithGatePassAudit(auditSvc),
	)
	slipSvc := service.NewSlipService(
		gatePassRepo,
		storage.NewSignedURLSigner(cfg.Slips.SignedURLSecret, cfg.Slips.SignedURLTTL),
		export.NewPDFExporter(location),
		logr,
		service.SlipConfig{APIPrefix: cfg.APIPrefix},
	)

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Logger:         logr,
		Metrics:        metrics,
		Validator:      authSvc,
		Audit:          auditSvc,
		ScanLimiter:    ratelimit.New(cfg.Scan.RatePerMinute, cfg.Scan.Burst),
		Auth:           handler.NewAuthHandler(authSvc),
		GatePasses:     handler.NewGatePassHandler(gatePassSvc, tokenSvc, slipSvc),
		Health:         handler.NewMetricsHandler(metrics, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
