package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/personachat/chat-proxy/internal/config"
	"github.com/personachat/chat-proxy/internal/logger"
	"github.com/personachat/chat-proxy/internal/persona"
	"github.com/personachat/chat-proxy/internal/upstream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message to the upstream provider and print the reply",
	Long: `Send a single message through the configured persona and upstream
provider, bypassing the HTTP server and the rate limiter. Useful to verify
the API key, endpoint and model before deploying.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

// runAsk 直接调用上游，验证配置是否可用
func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 开发模式日志（控制台输出，包含debug级别）
	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	apiKey := config.APIKeyLookup(cfg.Upstream.APIKeyEnv)()
	if apiKey == "" {
		return fmt.Errorf("%s is not set", cfg.Upstream.APIKeyEnv)
	}

	prompt, err := persona.Load(cfg.Persona.File)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	client := upstream.NewClient(cfg.Upstream, prompt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Debug("Calling upstream",
		zap.String("base_url", client.BaseURL),
		zap.String("model", client.Model),
		zap.String("key_prefix", maskAPIKey(apiKey)))

	completion, err := client.Complete(ctx, apiKey, message)
	if err != nil {
		var upErr *upstream.UpstreamError
		if errors.As(err, &upErr) && upErr.StatusCode > 0 {
			log.Error("Upstream rejected the request", zap.Int("status", upErr.StatusCode), zap.Error(err))
		} else {
			log.Error("Upstream call failed", zap.Error(err))
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, completion.Reply)
	fmt.Fprintf(out, "\n[tokens] prompt=%d completion=%d total=%d\n",
		completion.Usage.PromptTokens,
		completion.Usage.CompletionTokens,
		completion.Usage.TotalTokens)
	return nil
}
