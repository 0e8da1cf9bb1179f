package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/personachat/chat-proxy/internal/models"
	"github.com/personachat/chat-proxy/internal/upstream"
	"go.uber.org/zap"
)

// 返回给前端的错误文案
const (
	msgMethodNotAllowed = "Method not allowed"
	msgTooManyRequests  = "请求过于频繁，请稍后再试"
	msgInvalidMessage   = "请提供有效的消息内容"
	msgConfigError      = "服务配置错误"
	msgAPIKeyMissing    = "API密钥未配置"
	msgServerError      = "服务器错误"
	msgLimiterDown      = "限流服务暂不可用"
)

// timestampLayout matches JavaScript's Date.toISOString
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// chat handles POST /api/chat: method check, rate limit, body validation,
// API key lookup, one upstream call. A request that fails upstream still uses
// one unit of the caller's quota.
func (s *Server) chat(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		s.fail(c, http.StatusMethodNotAllowed, outcomeMethodNotAllowed, models.ErrorResponse{Error: msgMethodNotAllowed})
		return
	}

	client := clientIdentifier(c.Request)
	c.Set(clientIDKey, client)

	allowed, err := s.limiter.Allow(c.Request.Context(), client)
	if err != nil {
		s.logger.Error("Rate limiter failed",
			zap.String("client", client),
			zap.Error(err))
		s.fail(c, http.StatusInternalServerError, outcomeLimiterError, models.ErrorResponse{Error: msgServerError, Message: msgLimiterDown})
		return
	}
	if !allowed {
		s.fail(c, http.StatusTooManyRequests, outcomeRateLimited, models.ErrorResponse{Error: msgTooManyRequests, Message: s.limiter.Describe()})
		return
	}

	var req models.ChatRequest
	if s.cfg.Server.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxBodyBytes)
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		s.fail(c, http.StatusBadRequest, outcomeInvalidRequest, models.ErrorResponse{Error: msgInvalidMessage})
		return
	}

	apiKey := s.apiKey()
	if apiKey == "" {
		// 部署问题，不是上游故障
		s.logger.Error("Upstream API key not configured",
			zap.String("env", s.cfg.Upstream.APIKeyEnv))
		s.fail(c, http.StatusInternalServerError, outcomeConfigError, models.ErrorResponse{Error: msgConfigError, Message: msgAPIKeyMissing})
		return
	}

	start := time.Now()
	completion, err := s.upstream.Complete(c.Request.Context(), apiKey, req.Message)
	duration := time.Since(start)

	if err != nil {
		s.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration.Seconds())
		s.logUpstreamFailure(client, duration, err)
		s.fail(c, http.StatusInternalServerError, outcomeUpstreamError, models.ErrorResponse{Error: msgServerError, Message: err.Error()})
		return
	}

	s.metrics.UpstreamDuration.WithLabelValues("ok").Observe(duration.Seconds())
	s.metrics.Tokens.WithLabelValues("prompt").Add(float64(completion.Usage.PromptTokens))
	s.metrics.Tokens.WithLabelValues("completion").Add(float64(completion.Usage.CompletionTokens))

	s.logger.Info("Chat completed",
		zap.String("client", client),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", completion.Usage.PromptTokens),
		zap.Int("completion_tokens", completion.Usage.CompletionTokens),
		zap.Int("total_tokens", completion.Usage.TotalTokens))

	if s.usage != nil {
		if err := s.usage.RecordUsage(client, completion.Usage); err != nil {
			s.logger.Warn("Failed to record usage", zap.Error(err))
		}
	}

	s.metrics.ChatRequests.WithLabelValues(outcomeOK).Inc()
	c.JSON(http.StatusOK, models.ChatResponse{
		Reply:     completion.Reply,
		Tokens:    completion.Usage,
		Timestamp: time.Now().UTC().Format(timestampLayout),
	})
}

func (s *Server) fail(c *gin.Context, status int, outcome string, body models.ErrorResponse) {
	s.metrics.ChatRequests.WithLabelValues(outcome).Inc()
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) logUpstreamFailure(client string, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("client", client),
		zap.Duration("duration", duration),
		zap.Error(err),
	}

	var upErr *upstream.UpstreamError
	switch {
	case errors.As(err, &upErr) && upErr.StatusCode > 0:
		fields = append(fields, zap.Int("upstream_status", upErr.StatusCode))
	case errors.Is(err, upstream.ErrMalformedResponse):
		fields = append(fields, zap.Bool("malformed", true))
	}

	s.logger.Error("Chat API error", fields...)
}
