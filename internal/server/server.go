package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/personachat/chat-proxy/internal/config"
	"github.com/personachat/chat-proxy/internal/models"
	"github.com/personachat/chat-proxy/internal/persona"
	"github.com/personachat/chat-proxy/internal/ratelimit"
	"github.com/personachat/chat-proxy/internal/upstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Completer produces a reply for one user message
type Completer interface {
	Complete(ctx context.Context, apiKey, userMessage string) (*upstream.Completion, error)
}

// UsageRecorder persists token accounting for successful completions
type UsageRecorder interface {
	RecordUsage(client string, usage models.Usage) error
}

const chatPath = "/api/chat"

// Deps are the collaborators of the server. Zero fields get defaults built
// from the configuration, except Usage which stays disabled when nil.
type Deps struct {
	Limiter  *ratelimit.Limiter
	Upstream Completer
	Usage    UsageRecorder
	// APIKey is consulted on every request
	APIKey func() string
}

// Server represents the API server
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	limiter  *ratelimit.Limiter
	upstream Completer
	usage    UsageRecorder
	apiKey   func() string
	metrics  *Metrics
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger, deps Deps) (*Server, error) {
	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   gin.New(),
		limiter:  deps.Limiter,
		upstream: deps.Upstream,
		usage:    deps.Usage,
		apiKey:   deps.APIKey,
		metrics:  NewMetrics(),
	}

	if s.limiter == nil {
		s.limiter = ratelimit.New(ratelimit.NewMemoryStore(), cfg.RateLimit.Limit, cfg.RateLimit.Window,
			ratelimit.WithLogger(logger))
	}
	if s.upstream == nil {
		prompt, err := persona.Load(cfg.Persona.File)
		if err != nil {
			return nil, err
		}
		s.upstream = upstream.NewClient(cfg.Upstream, prompt)
	}
	if s.apiKey == nil {
		s.apiKey = config.APIKeyLookup(cfg.Upstream.APIKeyEnv)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggerMiddleware())

	// 前端页面与接口不同源时需要开启
	if s.cfg.Security.EnableCORS {
		s.router.Use(s.corsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	// 所有方法都进入同一个handler，由它返回405
	s.router.Any(chatPath, s.chat)
	// Any只注册标准方法，其余方法（PURGE等）在这里补上
	s.router.NoRoute(func(c *gin.Context) {
		if c.Request.URL.Path == chatPath {
			s.chat(c)
			return
		}
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
