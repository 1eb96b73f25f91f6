// Package web serves a live view of the game console over a websocket, along
// with health and Prometheus endpoints.
package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bend-n/panel/internal/config/gateway"
	"github.com/bend-n/panel/internal/console"
	"github.com/bend-n/panel/internal/heartbeat"
)

//go:embed index.html
var indexHTML []byte

const (
	flushInterval = 200 * time.Millisecond
	flushLines    = 15
)

// Console is the part of the bridge the viewer needs.
type Console interface {
	Subscribe(name string) *console.Subscription
	Issue(command string) error
	Connected() bool
}

// Heartbeat reports the console heartbeat history.
type Heartbeat interface {
	Status() heartbeat.Status
}

// Server is the web console viewer.
type Server struct {
	cfg       gateway.GatewayConfig
	console   Console
	heartbeat Heartbeat
	gatherer  prometheus.Gatherer
	engine    *gin.Engine
	upgrader  websocket.Upgrader
	started   time.Time

	flushInterval time.Duration
	flushLines    int
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(cfg gateway.GatewayConfig, con Console, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		console:  con,
		gatherer: gatherer,
		engine:   gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		started:       time.Now(),
		flushInterval: flushInterval,
		flushLines:    flushLines,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/ws", s.requireToken(), s.handleWebSocket)
}

// SetHeartbeat adds the heartbeat state to /healthz.
func (s *Server) SetHeartbeat(h Heartbeat) { s.heartbeat = h }

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("web: listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("web: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("web: shutdown", "err", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web: %w", err)
	}
	return ctx.Err()
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// Health is the /healthz response body.
type Health struct {
	Status    string           `json:"status"`
	Connected bool             `json:"connected"`
	Uptime    string           `json:"uptime"`
	Heartbeat *HeartbeatHealth `json:"heartbeat,omitempty"`
}

// HeartbeatHealth summarises the console heartbeat.
type HeartbeatHealth struct {
	LastReply *time.Time `json:"lastReply,omitempty"`
	Failures  int        `json:"failures"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := Health{Status: "ok", Connected: s.console.Connected(), Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.heartbeat != nil {
		st := s.heartbeat.Status()
		hb := &HeartbeatHealth{Failures: st.Failures}
		if !st.LastReply.IsZero() {
			hb.LastReply = &st.LastReply
		}
		resp.Heartbeat = hb
	}
	code := http.StatusOK
	if !resp.Connected {
		resp.Status = "disconnected"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// requireToken rejects requests without the configured token, passed either
// as ?token= or as a bearer Authorization header.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		tok := c.Query("token")
		if tok == "" {
			if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				tok = h[7:]
			}
		}
		if tok != s.cfg.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("web: request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start))
	}
}
