package llm

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

	"golang.org/x/time/rate"
)

// GeminiClient handles communication with the Google Gemini generateContent
// API for memory extraction. All HTTP calls are wrapped with circuit
// breaker protection and throttled by a client-side rate limiter so a
// burst of chat turns cannot flood the collaborator.
type GeminiClient struct {
	baseURL        string
	apiKey         string
	model          string
	timeout        time.Duration
	client         *http.Client
	circuitBreaker *CircuitBreaker
	limiter        *rate.Limiter
}

// GeminiConfig holds Gemini client configuration.
type GeminiConfig struct {
	// BaseURL is the API base (default: https://generativelanguage.googleapis.com).
	BaseURL string

	// APIKey authenticates the request. Required.
	APIKey string

	// Model is the model name (default: gemini-2.5-flash).
	Model string

	// Timeout bounds each request (default: 15s). Timeouts are failures,
	// never successes.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing calls (default: 2, burst 4).
	RequestsPerSecond float64
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient creates a Gemini client with the given configuration.
func NewGeminiClient(config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 2
	}

	return &GeminiClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   config.Model,
		timeout: config.Timeout,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{Name: "gemini"}),
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 4),
	}, nil
}

// Complete sends a completion request to Gemini and returns the response
// text. The call waits for a rate-limiter token first, then goes through
// the circuit breaker.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("gemini: rate limiter: %w", err)
	}

	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("gemini circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

// complete is the internal implementation without breaker wrapping.
func (c *GeminiClient) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("gemini: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("gemini: returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("gemini: failed to decode response: %w", err)
	}

	if len(respData.Candidates) == 0 || len(respData.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini: empty completion")
	}

	var sb strings.Builder
	for _, part := range respData.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.model
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *GeminiClient) BreakerState() string {
	return c.circuitBreaker.State()
}
