// Package anythingllm is the HTTP client for the remote workspace
// collaborator. Workspaces host the actual companion model; this service
// owns their configuration and pushes it one way, never reading remote
// config back.
package anythingllm

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

	"github.com/sony/gobreaker"

	"github.com/soullink/soullink/internal/reliability"
)

var (
	// ErrAlreadyExists is returned by CreateWorkspace when the remote
	// side reports the workspace already exists. Callers reuse the
	// requested slug instead of failing.
	ErrAlreadyExists = errors.New("anythingllm: workspace already exists")

	// ErrCircuitOpen is returned while the circuit breaker rejects calls.
	ErrCircuitOpen = errors.New("anythingllm: circuit breaker is open")
)

// HTTPError carries the status and a body snippet of a failed call.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Config holds client configuration.
type Config struct {
	// BaseURL of the AnythingLLM instance (e.g. http://localhost:3001).
	BaseURL string

	// APIKey for Bearer authentication. Required.
	APIKey string

	// Timeout bounds configuration calls (default: 30s).
	Timeout time.Duration

	// ChatTimeout bounds chat completions, which run a model and take
	// far longer than config pushes (default: 120s).
	ChatTimeout time.Duration
}

// Client talks to one AnythingLLM instance. All calls go through a
// shared circuit breaker; when the instance is down the breaker opens
// and callers fail fast with a retryable error.
type Client struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	chatClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// RemoteWorkspace is the identity the remote side assigns on creation.
// The returned slug is authoritative even when it differs from the one
// requested.
type RemoteWorkspace struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}

// WorkspaceUpdate is a partial configuration push. Nil fields are
// omitted so unrelated remote settings stay untouched.
type WorkspaceUpdate struct {
	OpenAiPrompt  *string  `json:"openAiPrompt,omitempty"`
	ChatMode      *string  `json:"chatMode,omitempty"`
	OpenAiTemp    *float64 `json:"openAiTemp,omitempty"`
	OpenAiHistory *int     `json:"openAiHistory,omitempty"`
	ChatProvider  *string  `json:"chatProvider,omitempty"`
	ChatModel     *string  `json:"chatModel,omitempty"`
}

// NewClient creates an AnythingLLM client.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("anythingllm: API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:3001"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = 120 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "anythingllm",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		client:     &http.Client{Timeout: config.Timeout},
		chatClient: &http.Client{Timeout: config.ChatTimeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}, nil
}

// VerifyAuth checks that the API key is accepted.
func (c *Client) VerifyAuth(ctx context.Context) error {
	return c.do(ctx, c.client, http.MethodGet, "/api/v1/auth", nil, nil)
}

// CreateWorkspace creates a remote workspace named name. When the
// remote side reports a conflict it returns ErrAlreadyExists; callers
// keep the slug they asked for and continue.
func (c *Client) CreateWorkspace(ctx context.Context, name string) (*RemoteWorkspace, error) {
	payload := map[string]string{"name": name}

	var resp struct {
		Workspace *RemoteWorkspace `json:"workspace"`
		RemoteWorkspace
	}
	err := c.do(ctx, c.client, http.MethodPost, "/api/v1/workspace/new", payload, &resp)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == http.StatusConflict ||
				strings.Contains(strings.ToLower(httpErr.Body), "already exists") {
				return nil, ErrAlreadyExists
			}
		}
		return nil, err
	}

	// Some versions nest the workspace, some return it at the top level.
	if resp.Workspace != nil {
		return resp.Workspace, nil
	}
	return &resp.RemoteWorkspace, nil
}

// UpdateWorkspace pushes a partial configuration update to the slug.
func (c *Client) UpdateWorkspace(ctx context.Context, slug string, update WorkspaceUpdate) error {
	path := fmt.Sprintf("/api/v1/workspace/%s/update", slug)
	return c.do(ctx, c.client, http.MethodPost, path, update, nil)
}

// UpdateEmbeddings adds and removes embedded documents on the slug.
func (c *Client) UpdateEmbeddings(ctx context.Context, slug string, adds, deletes []string) error {
	if adds == nil {
		adds = []string{}
	}
	if deletes == nil {
		deletes = []string{}
	}
	payload := map[string][]string{"adds": adds, "deletes": deletes}
	path := fmt.Sprintf("/api/v1/workspace/%s/update-embeddings", slug)
	return c.do(ctx, c.client, http.MethodPost, path, payload, nil)
}

// GetWorkspaceDocuments returns the docpaths currently embedded in the
// slug. Documents arrive as objects or bare strings depending on the
// remote version.
func (c *Client) GetWorkspaceDocuments(ctx context.Context, slug string) ([]string, error) {
	var resp struct {
		Workspace json.RawMessage `json:"workspace"`
	}
	path := fmt.Sprintf("/api/v1/workspace/%s", slug)
	if err := c.do(ctx, c.client, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return parseWorkspaceDocuments(resp.Workspace)
}

// Chat sends a message to the workspace and returns the companion's
// text response.
func (c *Client) Chat(ctx context.Context, slug, message, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = "default-session"
	}
	payload := map[string]string{
		"message":   message,
		"mode":      "chat",
		"sessionId": sessionID,
	}

	var resp struct {
		TextResponse string `json:"textResponse"`
		Error        string `json:"error"`
	}
	path := fmt.Sprintf("/api/v1/workspace/%s/chat", slug)
	if err := c.do(ctx, c.chatClient, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", reliability.Transient(fmt.Errorf("anythingllm: chat error: %s", resp.Error))
	}
	if resp.TextResponse == "" {
		return "", reliability.Transient(errors.New("anythingllm: empty chat response"))
	}
	return resp.TextResponse, nil
}

// DeleteWorkspace removes the remote workspace. A 404 is success: the
// resource is already gone.
func (c *Client) DeleteWorkspace(ctx context.Context, slug string) error {
	path := fmt.Sprintf("/api/v1/workspace/%s", slug)
	err := c.do(ctx, c.client, http.MethodDelete, path, nil, nil)
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// do runs one request through the circuit breaker, decoding the JSON
// response into out when non-nil. Failures carry a reliability class:
// network errors and 5xx/429 are transient, other statuses permanent.
func (c *Client) do(ctx context.Context, client *http.Client, method, path string, payload, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, reliability.Permanent(fmt.Errorf("anythingllm: marshal request: %w", err))
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, reliability.Permanent(fmt.Errorf("anythingllm: create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, reliability.Transient(fmt.Errorf("anythingllm: %s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, reliability.FromHTTPStatus(resp.StatusCode, &HTTPError{
				StatusCode: resp.StatusCode,
				Body:       strings.TrimSpace(string(snippet)),
			})
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, reliability.Transient(fmt.Errorf("anythingllm: decode response: %w", err))
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return reliability.Transient(ErrCircuitOpen)
	}
	return err
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// parseWorkspaceDocuments extracts docpaths from the raw workspace
// payload, tolerating both list and object forms.
func parseWorkspaceDocuments(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	// The workspace field is sometimes a single-element array.
	var asList []json.RawMessage
	if err := json.Unmarshal(raw, &asList); err == nil {
		if len(asList) == 0 {
			return nil, nil
		}
		raw = asList[0]
	}

	var ws struct {
		Documents []json.RawMessage `json:"documents"`
	}
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("anythingllm: parse workspace: %w", err)
	}

	paths := make([]string, 0, len(ws.Documents))
	for _, doc := range ws.Documents {
		var asString string
		if err := json.Unmarshal(doc, &asString); err == nil {
			paths = append(paths, asString)
			continue
		}
		var asObject struct {
			Docpath string `json:"docpath"`
			Name    string `json:"name"`
		}
		if err := json.Unmarshal(doc, &asObject); err != nil {
			continue
		}
		if asObject.Docpath != "" {
			paths = append(paths, asObject.Docpath)
		} else if asObject.Name != "" {
			paths = append(paths, asObject.Name)
		}
	}
	return paths, nil
}
