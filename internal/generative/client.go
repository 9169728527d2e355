// Package generative provides the HTTP client for the remote generative
// service used by the generation and validation adapters.
package generative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ericharmeling/docs-pipeline/internal/config"
	"github.com/ericharmeling/docs-pipeline/internal/retry"
)

const apiVersion = "2023-06-01"

// Client calls an Anthropic-style messages endpoint and collapses the
// response into a single text string.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	http      *http.Client
	policy    retry.Policy
}

// NewClient builds a client from the generation config and API credential.
func NewClient(cfg config.GenerationConfig, apiKey string) *Client {
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    apiKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		http:      &http.Client{Timeout: cfg.Timeout},
		policy: retry.NewPolicy(
			retry.BackoffMode(cfg.Retry.Mode),
			cfg.Retry.Initial,
			cfg.Retry.Max,
			cfg.Retry.MaxRetries,
		),
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// statusError carries an HTTP status for retry classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.status, e.body)
}

func retryableStatus(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Transport-level failures are worth another attempt.
	return true
}

// Complete sends a single-turn prompt and returns the full response text.
// Transient failures (transport errors, 429, 5xx) are retried per policy;
// the context deadline bounds the whole exchange.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	temperature := 0.0
	body, err := json.Marshal(apiRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    []apiMessage{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("building request body: %w", err)
	}

	var text string
	err = c.policy.Do(ctx, retryableStatus, func() error {
		var doErr error
		text, doErr = c.doRequest(ctx, body)
		return doErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in response (after %v)", time.Since(start))
	}
	return text, nil
}
