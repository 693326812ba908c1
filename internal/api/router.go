package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/domain-guardian/internal/api/handlers"
	"github.com/leozw/domain-guardian/internal/api/middleware"
	"github.com/leozw/domain-guardian/internal/config"
)

type Server struct {
	Config  config.ServerConfig
	Router  *gin.Engine
	handler *handlers.Handler
	metrics http.Handler
	logger  *zap.Logger
	http    *http.Server
}

// NewServer builds the control API. metrics may be nil to omit /metrics.
func NewServer(cfg config.ServerConfig, handler *handlers.Handler, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	s := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
		metrics: metrics,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.handler.Health)
	s.Router.GET("/ready", s.handler.Ready)
	if s.metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.metrics))
	}

	api := s.Router.Group("/api/v1")
	if s.Config.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.Config.JWTSecret))
	} else {
		s.logger.Warn("JWT secret not configured, control API is unauthenticated")
	}

	mon := api.Group("/monitoring")
	{
		mon.GET("/status", s.handler.MonitoringStatus)
		mon.POST("/run", s.handler.RunMonitoring)
		mon.GET("/logs", s.handler.ListLogs)
		mon.DELETE("/logs", s.handler.PurgeLogs)
		mon.GET("/stats", s.handler.Stats)
	}

	domains := api.Group("/domains")
	{
		domains.GET("", s.handler.ListDomains)
		domains.POST("/check", s.handler.CheckHostname)
		domains.POST("/:id/check", s.handler.CheckDomain)
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + s.Config.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting API server", zap.String("port", s.Config.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
