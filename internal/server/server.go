package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sharedvolume/drift-detector/internal/config"
	"github.com/sharedvolume/drift-detector/internal/handler"
	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/service"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	logger     *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, driftService *service.DriftService, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("server")
	logger.Info("initializing HTTP server",
		zap.String("port", cfg.Server.Port),
		zap.Duration("readTimeout", cfg.Server.ReadTimeout),
		zap.Duration("writeTimeout", cfg.Server.WriteTimeout),
		zap.Duration("idleTimeout", cfg.Server.IdleTimeout))

	gin.SetMode(gin.ReleaseMode)

	driftHandler := handler.NewDriftHandler(driftService, logger)
	router := NewRouter(driftHandler, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		httpServer: httpServer,
		cfg:        cfg,
		logger:     logger,
	}
}

// NewRouter wires the API routes
func NewRouter(h *handler.DriftHandler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logging.OrNop(logger)))

	router.GET("/health", h.HealthCheck)
	api := router.Group("/api/1.0")
	api.POST("/drift", h.Drift)
	api.POST("/file-content", h.FileContent)
	return router
}

// requestLogger logs one line per request through zap instead of gin's writer
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("failed to start server", zap.Error(err))
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("failed to shutdown gracefully", zap.Error(err))
	} else {
		s.logger.Info("server shutdown completed")
	}
	return err
}
