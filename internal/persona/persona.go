// Package persona holds the system prompt sent ahead of every user message.
//
// The default text is compiled into the binary. Operators can swap it by
// pointing persona.file at another UTF-8 text file; the prompt never changes
// after startup.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed default.txt
var defaultPrompt string

// Default returns the embedded persona prompt
func Default() string {
	return strings.TrimSpace(defaultPrompt)
}

// Load returns the prompt stored at path, or the embedded default when path is
// empty. A file that exists but is blank is an error rather than a silent
// fallback.
func Load(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read persona file: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("persona file %s is empty", path)
	}
	return prompt, nil
}
