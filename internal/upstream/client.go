// Package upstream talks to the OpenAI-compatible chat-completions provider
// that produces the actual replies.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/personachat/chat-proxy/internal/config"
	"github.com/personachat/chat-proxy/internal/models"
	"golang.org/x/oauth2"
)

// ErrMalformedResponse is returned when a 2xx payload lacks the choice or usage
// fields. There is no sensible default reply, so callers treat it as fatal.
var ErrMalformedResponse = errors.New("malformed upstream response")

// ErrMissingAPIKey is returned when Complete is called without a key
var ErrMissingAPIKey = errors.New("upstream api key is required")

// UpstreamError is a failure attributable to the provider: transport error,
// non-2xx status, or an error object inside a 2xx body.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream request failed: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream request failed: %s", e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Completion is the part of the provider reply the widget cares about
type Completion struct {
	Reply        string
	Usage        models.Usage
	Model        string
	FinishReason string
}

// Client sends one system+user exchange per call. It holds no per-request
// state and is safe for concurrent use.
type Client struct {
	BaseURL     string
	Model       string
	Persona     string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// Timeout bounds a single call; zero leaves it to the caller's context.
	Timeout time.Duration
	// Transport is the base round tripper; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewClient builds a client from configuration and the persona prompt
func NewClient(cfg config.UpstreamConfig, persona string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		Model:       cfg.Model,
		Persona:     persona,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
		Timeout:     cfg.Timeout,
	}
}

// buildRequest assembles the provider payload
func (c *Client) buildRequest(userMessage string) *models.ChatCompletionRequest {
	return &models.ChatCompletionRequest{
		Model: c.Model,
		Messages: []models.ChatCompletionMessage{
			{Role: models.RoleSystem, Content: c.Persona},
			{Role: models.RoleUser, Content: userMessage},
		},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		TopP:        c.TopP,
	}
}

func (c *Client) httpClient(apiKey string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"}),
			Base:   c.Transport,
		},
		Timeout: c.Timeout,
	}
}

// Complete sends userMessage behind the persona prompt and returns the first
// choice. It never retries.
func (c *Client) Complete(ctx context.Context, apiKey, userMessage string) (*Completion, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(c.buildRequest(userMessage))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := c.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(apiKey).Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return parseCompletion(respBody)
}

func parseCompletion(body []byte) (*Completion, error) {
	var parsed models.ChatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if parsed.Error != nil {
		return nil, &UpstreamError{Message: parsed.Error.Message}
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	if parsed.Usage == nil {
		return nil, fmt.Errorf("%w: no usage", ErrMalformedResponse)
	}

	choice := parsed.Choices[0]
	return &Completion{
		Reply:        choice.Message.Content,
		Usage:        *parsed.Usage,
		Model:        parsed.Model,
		FinishReason: choice.FinishReason,
	}, nil
}
