package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/executor"
	"github.com/isdmx/runbox/terminal"
)

// Executor runs one-shot requests.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) executor.Result
}

// Sessions manages interactive terminal sessions.
type Sessions interface {
	Open(conn terminal.Conn) *terminal.Session
	Receive(s *terminal.Session, message string)
	Close(s *terminal.Session)
	Registry() *terminal.Registry
}

// SandboxStatus reports the sandbox pool mode.
type SandboxStatus interface {
	Mode() string
}

// Config holds configuration for the HTTP server
type Config struct {
	Address        string
	AllowedOrigins []string
}

// Health is the /healthz response body.
type Health struct {
	Status   string `json:"status"`
	Sandbox  string `json:"sandbox"`
	Sessions int    `json:"sessions"`
}

// Server serves the REST and websocket API.
type Server struct {
	logger   *zap.Logger
	config   Config
	executor Executor
	sessions Sessions
	sandbox  SandboxStatus
	gatherer prometheus.Gatherer

	engine   *gin.Engine
	upgrader *websocket.Upgrader
	http     *http.Server
}

// New creates the server and registers its routes.
func New(logger *zap.Logger, config Config, exec Executor, sessions Sessions, sandbox SandboxStatus, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:   logger.Named("http"),
		config:   config,
		executor: exec,
		sessions: sessions,
		sandbox:  sandbox,
		gatherer: gatherer,
	}
	s.upgrader = s.newUpgrader()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(config.AllowedOrigins))
	router.Use(requestLogger(s.logger))

	router.POST("/api/execute/java", s.handleExecute)
	router.POST("/api/execute", s.handleExecute)
	router.GET("/terminal", s.handleTerminal)
	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.engine = router
	s.http = &http.Server{
		Addr:    config.Address,
		Handler: router,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.logger.Info("http server started", zap.String("address", listener.Addr().String()))

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleExecute(c *gin.Context) {
	var req executor.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, executor.Result{
			Stderr:   "Invalid request: " + err.Error(),
			ExitCode: 1,
		})
		return
	}

	result := s.executor.Execute(c.Request.Context(), req)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, Health{
		Status:   "ok",
		Sandbox:  s.sandbox.Mode(),
		Sessions: s.sessions.Registry().Len(),
	})
}
