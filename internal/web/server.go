// internal/web/server.go
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dwmon/internal/config"
	"dwmon/internal/database"
	"dwmon/internal/metrics"
	"dwmon/internal/monitoring"
)

// Notifier is the notification channel exposed under /api/notifications.
type Notifier interface {
	TestNotification(ctx context.Context, text string) error
	Stats() map[string]any
}

type Server struct {
	config    *config.Config
	store     database.ExtendedStore
	engine    *monitoring.Engine
	scheduler *monitoring.Scheduler
	metrics   *metrics.Collector
	hub       *Hub
	notifier  Notifier
	router    *gin.Engine
	server    *http.Server
	startedAt time.Time
}

func NewServer(cfg *config.Config, store database.ExtendedStore, engine *monitoring.Engine, scheduler *monitoring.Scheduler, metricsCollector *metrics.Collector, hub *Hub) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	if metricsCollector == nil {
		metricsCollector = metrics.NewCollector(store)
	}
	if hub == nil {
		hub = NewHub(metricsCollector)
	}

	router := gin.New()
	router.Use(requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	server := &Server{
		config:    cfg,
		store:     store,
		engine:    engine,
		scheduler: scheduler,
		metrics:   metricsCollector,
		hub:       hub,
		router:    router,
		startedAt: time.Now(),
	}

	server.setupRoutes()
	return server
}

// SetNotifier enables the notification endpoints.
func (s *Server) SetNotifier(n Notifier) {
	s.notifier = n
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.healthCheck)
		api.GET("/version", s.getBuildInfo)
		api.GET("/stats", s.getStats)
		api.GET("/results", s.getResults)

		api.GET("/checkers", s.getCheckers)
		api.GET("/checkers/:name", s.getChecker)
		api.POST("/checkers/:name/check", s.checkNow)
		api.POST("/checkers/:name/purge", s.purgeChecker)
	}
	s.setupNotificationRoutes(api)

	s.router.GET("/ws", s.handleWebSocket)

	if s.config.Prometheus.Enabled {
		s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
}

// requestLogger logs each request through logrus instead of gin's writer.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"client":   c.ClientIP(),
		}).Debug("HTTP request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
