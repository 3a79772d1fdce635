// Package api provides the HTTP server of the chat relay.
// It includes the server struct, routing setup, the CORS middleware and
// hot-reload of the settings that can change without a restart.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/chatrelay/internal/api/handlers"
	"github.com/router-for-me/chatrelay/internal/api/middleware"
	"github.com/router-for-me/chatrelay/internal/config"
	"github.com/router-for-me/chatrelay/internal/logging"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware after the built-in chain.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// Server is the HTTP front of the relay.
type Server struct {
	// engine is the Gin web framework engine instance.
	engine *gin.Engine

	// server is the underlying HTTP server.
	server *http.Server

	chat    *handlers.ChatHandler
	history *handlers.HistoryHandler

	// cfgHolder provides race-safe config snapshots for middleware reads.
	cfgHolder atomic.Pointer[config.Config]
}

// NewServer creates the server, its middleware chain and routes.
func NewServer(cfg *config.Config, chat *handlers.ChatHandler, history *handlers.HistoryHandler, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.ConnectionTrackerMiddleware())
	engine.Use(middleware.PrometheusMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s := &Server{
		engine:  engine,
		chat:    chat,
		history: history,
	}
	s.cfgHolder.Store(cfg)

	engine.Use(corsMiddleware(s.getConfig))
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.history.Health)
	s.engine.GET("/metrics", middleware.MetricsHandler())

	api := s.engine.Group("/api")
	{
		api.POST("/chat", middleware.RequestDecompressionMiddleware(), s.chat.Chat)
		api.GET("/chat/ws", s.chat.ChatWebSocket)
		api.GET("/history/:sessionId", s.history.GetHistory)
		api.DELETE("/history/:sessionId", s.history.DeleteHistory)
		api.GET("/usage", s.chat.Usage)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.Data(http.StatusNotFound, "text/plain; charset=utf-8", []byte("Not found"))
	})
}

// Start begins listening for and serving HTTP or HTTPS requests.
// It's a blocking call and will only return on an unrecoverable error.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	cfg := s.getConfig()
	if cfg != nil && cfg.TLS.Enable {
		cert := strings.TrimSpace(cfg.TLS.Cert)
		key := strings.TrimSpace(cfg.TLS.Key)
		if cert == "" || key == "" {
			return fmt.Errorf("failed to start HTTPS server: tls.cert or tls.key is empty")
		}
		log.Debugf("Starting chat relay on %s with TLS", s.server.Addr)
		if errServeTLS := s.server.ListenAndServeTLS(cert, key); errServeTLS != nil && !errors.Is(errServeTLS, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %v", errServeTLS)
		}
		return nil
	}

	log.Debugf("Starting chat relay on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop stops accepting connections and waits for in-flight requests until ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping chat relay...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	log.Debug("Chat relay stopped")
	return nil
}

// UpdateConfig applies the settings that can change at runtime: CORS, metrics
// collection and the log level. Listener, upstream and storage settings need a
// restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.getConfig()
	s.cfgHolder.Store(cfg)

	if old == nil || old.IsMetricsEnabled() != cfg.IsMetricsEnabled() {
		middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())
		log.Infof("metrics %s", enabledWord(cfg.IsMetricsEnabled()))
	}
	if old == nil || old.Debug != cfg.Debug || old.LogLevel != cfg.LogLevel {
		logging.ApplyConfigLevel(cfg)
	}
	if old == nil || old.LoggingToFile != cfg.LoggingToFile || old.GetLogDir() != cfg.GetLogDir() {
		if err := logging.ConfigureLogOutput(cfg); err != nil {
			log.Errorf("failed to reconfigure log output: %v", err)
		}
	}
	if old != nil && (old.Host != cfg.Host || old.Port != cfg.Port || old.TLS != cfg.TLS) {
		log.Warn("listener settings changed; restart to apply")
	}
}

func enabledWord(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}

// corsMiddleware returns a Gin middleware handler that adds CORS headers
// to every response, allowing cross-origin requests from configured origins.
func corsMiddleware(getCfg func() *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := (*config.Config)(nil)
		if getCfg != nil {
			cfg = getCfg()
		}

		origin := strings.TrimSpace(c.GetHeader("Origin"))
		allowOrigins := []string{}
		allowMethods := "GET, POST, DELETE, OPTIONS"
		allowHeaders := "*"
		if cfg != nil {
			allowOrigins = cfg.CORS.AllowOrigins
			if len(cfg.CORS.AllowHeaders) > 0 {
				allowHeaders = strings.Join(cfg.CORS.AllowHeaders, ", ")
			}
		}

		allowedOrigin := ""
		if origin != "" {
			switch {
			case len(allowOrigins) == 0:
				allowedOrigin = "*"
			case originAllowed(allowOrigins, origin):
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowedOrigin)
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Expose-Headers", handlers.SessionHeader)
			if allowedOrigin != "*" {
				c.Header("Vary", "Origin")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if origin != "" && allowedOrigin == "" && isUpgrade(c.Request) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}

// isUpgrade reports a websocket handshake, which browsers send without a CORS preflight.
func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func originAllowed(allowOrigins []string, origin string) bool {
	if origin == "" || len(allowOrigins) == 0 {
		return false
	}
	for _, allowed := range allowOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) getConfig() *config.Config {
	if s == nil {
		return nil
	}
	return s.cfgHolder.Load()
}
