package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"potluck-chat/config"
	"potluck-chat/internal/handler"
	"potluck-chat/internal/metrics"
	"potluck-chat/internal/middleware"
	"potluck-chat/internal/transport/httpdto"
	"potluck-chat/internal/websocket"
	"potluck-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Message      *handler.MessageHandler
	Upload       *handler.UploadHandler
	User         *handler.UserHandler
	WebSocket    *websocket.Handler
}

// Dependencies are the cross-cutting collaborators the routes need.
type Dependencies struct {
	Verifier middleware.TokenVerifier
	Limiter  middleware.UserLimiter
	// Health reports whether the backing stores answer.
	Health func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger, m *metrics.Metrics) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine:  engine,
		config:  cfg,
		logger:  l,
		metrics: m,
	}
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.AllowedOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger, s.metrics))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	if handlers.WebSocket != nil {
		s.engine.GET("/ws", handlers.WebSocket.Connect)
	}

	api := s.engine.Group("/", middleware.AuthMiddleware(deps.Verifier))
	{
		api.GET("/users/me", handlers.User.Me)
		api.GET("/users/search", handlers.User.Search)

		api.GET("/conversations", handlers.Conversation.List)
		api.POST("/conversations", handlers.Conversation.Create)
		api.GET("/conversations/:id", handlers.Conversation.GetByID)
		api.PUT("/conversations/:id", handlers.Conversation.Update)
		api.GET("/conversations/:id/messages", handlers.Message.History)
		api.GET("/conversations/:id/messages/search", handlers.Message.Search)
		api.GET("/conversations/:id/unread", handlers.Message.UnreadCount)

		uploads := api.Group("/upload", middleware.UserRateLimitMiddleware(deps.Limiter))
		uploads.POST("", handlers.Upload.Upload)
		uploads.POST("/presign", handlers.Upload.Presign)
	}
}

// Run serves until ctx is cancelled, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil && s.logger != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-ctx.Done():
	}

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}
	return nil
}
