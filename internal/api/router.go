// Package api exposes the assistants over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"hostel-assistant/internal/common/auth"
	apperrors "hostel-assistant/internal/common/errors"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	Admin          AdminProcessor
	Student        StudentAnswerer
	Visitor        VisitorAnswerer
	Verifier       *auth.Verifier
	Checks         []HealthChecker
	Logger         logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger.With(map[string]interface{}{"component": "http"})
	h := &Handler{
		admin:    cfg.Admin,
		student:  cfg.Student,
		visitor:  cfg.Visitor,
		verifier: cfg.Verifier,
		checks:   cfg.Checks,
		errors:   apperrors.NewErrorHandler(log),
		logger:   log,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}
	router.Use(requestID())
	router.Use(metricsMiddleware())
	router.Use(requestLogger(log))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/", h.index)
	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	visitor := router.Group("/visitor")
	{
		visitor.POST("/query", h.visitorQuery)
		visitor.GET("/test", h.visitorTest)
	}

	// ===============
	// || Protected ||
	// ===============
	router.POST("/admin/query", h.authenticate(models.RoleAdmin), h.adminQuery)
	router.POST("/student/query", h.authenticate(models.RoleStudent), h.studentQuery)

	return router
}
