// Package http wires the relay's gin engine: route table, auth/CORS
// middleware, and graceful shutdown, generalized from the teacher's
// interfaces/http.Server.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Baozhi888/zai2api-go/internal/domain/entity"
	"github.com/Baozhi888/zai2api-go/internal/domain/service"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/config"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/monitoring"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/upstream"
	"github.com/Baozhi888/zai2api-go/internal/interfaces/http/handlers"
	"github.com/Baozhi888/zai2api-go/internal/interfaces/http/middleware"
)

// Server is the relay's HTTP listener.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Deps bundles the components NewServer wires into gin handlers.
type Deps struct {
	Config         *config.Config
	Watcher        *config.Watcher
	UpstreamClient *upstream.Client
	Transformer    *service.RequestTransformer
	Monitor        *monitoring.Monitor
	Tracer         *monitoring.Tracer
	KnownModels    []string
}

// NewServer builds the gin engine and its route table.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if deps.Config.Listen.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))
	router.Use(middleware.CORS(deps.Watcher))

	reasoningMode := entity.ReasoningMode(deps.Config.Upstream.ReasoningMode)

	healthHandler := handlers.NewHealthHandler("zai2api")
	statsHandler := handlers.NewStatsHandler(deps.Monitor, deps.Tracer)
	modelsHandler := handlers.NewModelsHandler(deps.KnownModels, deps.Config.Cache.ModelListTTL)
	chatHandler := handlers.NewChatHandler(deps.UpstreamClient, deps.Transformer, reasoningMode, deps.Config.Upstream.DefaultModel, deps.Monitor, deps.Tracer, logger)
	messagesHandler := handlers.NewMessagesHandler(deps.UpstreamClient, deps.Transformer, reasoningMode, deps.Monitor, deps.Tracer, logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(deps.Monitor.PrometheusHandler()))

	authed := router.Group("/")
	authed.Use(middleware.Auth(deps.Config.Auth))
	{
		authed.GET("/v1/models", modelsHandler.List)
		authed.POST("/v1/chat/completions", chatHandler.ChatCompletions)
		authed.POST("/v1/messages", messagesHandler.Messages)
		authed.GET("/debug/stats", statsHandler.Stats)
		authed.GET("/debug/traces", statsHandler.Traces)
	}

	addr := fmt.Sprintf("%s:%d", deps.Config.Listen.Host, deps.Config.Listen.Port)
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// ginLogger bridges gin's request lifecycle to the relay's zap logger,
// generalized from the teacher's ginLogger middleware.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
