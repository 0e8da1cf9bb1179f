package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/personachat/chat-proxy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "chat.log")

	log, err := New(config.LoggingConfig{Level: "debug", Format: "json", Output: out, MaxSize: 1})
	require.NoError(t, err)

	log.Info("chat request served")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"chat request served"`)
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	out := filepath.Join(t.TempDir(), "chat.log")

	log, err := New(config.LoggingConfig{Level: "loud", Output: out, MaxSize: 1})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("visible")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}
