package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsEmbedded(t *testing.T) {
	prompt := Default()
	assert.NotEmpty(t, prompt)
	assert.Contains(t, prompt, "AI数字分身")
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	prompt, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), prompt)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  You are a terse assistant.\n"), 0644))

	prompt, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a terse assistant.", prompt)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)

	blank := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(blank, []byte("   \n"), 0644))
	_, err = Load(blank)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
