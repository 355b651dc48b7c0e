package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/gatepass-api/internal/middleware"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/service"
	"github.com/noah-isme/gatepass-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/gatepass-api/pkg/middleware/cors"
	"github.com/noah-isme/gatepass-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/gatepass-api/pkg/middleware/requestid"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Logger         *zap.Logger
	Metrics        *service.MetricsService
	Validator      middleware.TokenValidator
	Audit          middleware.AuditRecorder
	ScanLimiter    *ratelimit.Limiter
	Auth           *AuthHandler
	GatePasses     *GatePassHandler
	Health         *MetricsHandler
}

// NewRouter assembles the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.Health != nil {
		r.GET("/health", cfg.Health.Health)
		r.GET("/ready", cfg.Health.Ready)
		r.GET("/metrics", cfg.Health.Prometheus)
	}
	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "route not found"}})
	})

	api := r.Group(cfg.APIPrefix)

	if cfg.Auth != nil {
		auth := api.Group("/auth")
		auth.POST("/login", cfg.Auth.Login)
		auth.GET("/me", middleware.JWT(cfg.Validator), cfg.Auth.Me)
	}

	if cfg.GatePasses != nil {
		h := cfg.GatePasses
		// Signed slip links authenticate themselves.
		api.GET("/gatepasses/slips/:token", h.DownloadSlip)

		gp := api.Group("/gatepasses", middleware.JWT(cfg.Validator))
		gp.POST("", middleware.RequireRoles(models.RoleStudent), h.Create)
		gp.GET("", h.List)
		gp.GET("/summary", h.Summary)

		scan := []gin.HandlerFunc{middleware.RequireRoles(models.RoleSecurity, models.RoleWarden)}
		if cfg.ScanLimiter != nil {
			scan = append(scan, ratelimit.Middleware(cfg.ScanLimiter, scanKey))
		}
		scan = append(scan, h.Scan)
		gp.POST("/tokens/scan", scan...)

		gp.GET("/:id", h.Get)
		gp.POST("/:id/decision", h.Decide)
		gp.GET("/:id/slip",
			middleware.RequireRoles(models.RoleStudent, models.RoleWarden, models.RoleSecurity),
			middleware.Audit(cfg.Audit, models.AuditActionGatePassSlip, "gatepass_slip"),
			h.SlipLink,
		)
	}

	return r
}

// scanKey throttles per authenticated scanner.
func scanKey(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return "user:" + claims.UserID
	}
	return ""
}
