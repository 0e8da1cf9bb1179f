package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/personachat/chat-proxy/internal/config"
	"github.com/personachat/chat-proxy/internal/logger"
	"github.com/personachat/chat-proxy/internal/persona"
	"github.com/personachat/chat-proxy/internal/ratelimit"
	"github.com/personachat/chat-proxy/internal/server"
	"github.com/personachat/chat-proxy/internal/storage"
	"github.com/personachat/chat-proxy/internal/upstream"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat relay server",
	Long:  `Start the HTTP server exposing POST /api/chat, /health and /metrics`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()
	flags.String("rate-limit-backend", config.BackendMemory, "rate limit store (memory/redis)")
	flags.String("redis-addr", "localhost:6379", "redis address for the redis rate limit store")
	flags.Bool("cors", false, "enable CORS for cross-origin widgets")

	viper.BindPFlag("rate_limit.backend", flags.Lookup("rate-limit-backend"))
	viper.BindPFlag("rate_limit.redis.addr", flags.Lookup("redis-addr"))
	viper.BindPFlag("security.enable_cors", flags.Lookup("cors"))
}

func runServe(cmd *cobra.Command, args []string) error {
	// 加载或创建配置
	cfg, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if err := initDirectories(cfg); err != nil {
		log.Error("Failed to initialize directories", zap.Error(err))
		return err
	}

	log.Info("Starting personachat",
		zap.String("version", build.Version),
		zap.String("build_time", build.BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("model", cfg.Upstream.Model),
		zap.String("rate_limit_backend", cfg.RateLimit.Backend),
		zap.Int("rate_limit", cfg.RateLimit.Limit),
		zap.Duration("rate_window", cfg.RateLimit.Window),
	)

	apiKey := config.APIKeyLookup(cfg.Upstream.APIKeyEnv)
	if key := apiKey(); key != "" {
		log.Info("Upstream API key is set", zap.String("key_prefix", maskAPIKey(key)))
	} else {
		// 不阻止启动：每个请求都会重新读取，缺失时返回配置错误
		log.Warn("Upstream API key is not set; chat requests will fail until it is exported",
			zap.String("env", cfg.Upstream.APIKeyEnv))
	}

	store, closeStore, err := newRateLimitStore(cfg.RateLimit)
	if err != nil {
		log.Error("Failed to initialize rate limit store", zap.Error(err))
		return err
	}
	defer closeStore()

	prompt, err := persona.Load(cfg.Persona.File)
	if err != nil {
		log.Error("Failed to load persona", zap.Error(err))
		return err
	}

	srv, err := server.New(cfg, log, server.Deps{
		Limiter:  ratelimit.New(store, cfg.RateLimit.Limit, cfg.RateLimit.Window, ratelimit.WithLogger(log)),
		Upstream: upstream.NewClient(cfg.Upstream, prompt),
		Usage:    storage.NewUsageStore(cfg.Storage.UsageDir),
		APIKey:   apiKey,
	})
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}

// newRateLimitStore builds the configured store and a cleanup func
func newRateLimitStore(cfg config.RateLimitConfig) (ratelimit.Store, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := ratelimit.NewRedisStore(client, cfg.Redis.Prefix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	return store, func() { client.Close() }, nil
}

func initDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.Storage.DataDir,
		cfg.Storage.UsageDir,
		cfg.Storage.LogsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// maskAPIKey returns a masked version of the API key for logging
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
