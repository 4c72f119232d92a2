package premium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ModelRequest is a single completion call against one candidate model.
type ModelRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// ModelResponse is the raw result of a completion call, before parsing into
// AIInsights.
type ModelResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Client abstracts the premium model backend so the enhancer never depends
// on a specific vendor's wire format directly.
type Client interface {
	Complete(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// APIError carries the HTTP status code of a failed completion call so the
// caller can classify it as throttling, a server error, or an entitlement
// failure without string-matching the message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("premium: API error %d: %s", e.StatusCode, e.Message)
}

func isEntitlementStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound
}

func isThrottleStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func isServerErrorStatus(code int) bool {
	return code >= 500 && code < 600
}

// HTTPClient talks to any OpenAI-chat-completions-compatible endpoint. Model
// selection happens one level up in Enhancer; HTTPClient only executes the
// call for whatever model id it's given.
type HTTPClient struct {
	baseURL         string
	apiKey          string
	authHeader      string
	authPrefix      string
	completionsPath string
	httpClient      *http.Client
}

type HTTPClientOption func(*HTTPClient)

func WithAuthHeader(header, prefix string) HTTPClientOption {
	return func(c *HTTPClient) { c.authHeader = header; c.authPrefix = prefix }
}

func WithCompletionsPath(path string) HTTPClientOption {
	return func(c *HTTPClient) { c.completionsPath = path }
}

func WithHTTPClient(h *http.Client) HTTPClientOption {
	return func(c *HTTPClient) { c.httpClient = h }
}

func NewHTTPClient(baseURL, apiKey string, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		apiKey:          apiKey,
		authHeader:      "Authorization",
		authPrefix:      "Bearer ",
		completionsPath: "/v1/chat/completions",
		httpClient:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) Complete(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return ModelResponse{}, fmt.Errorf("premium: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.completionsPath, bytes.NewReader(body))
	if err != nil {
		return ModelResponse{}, fmt.Errorf("premium: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(c.authHeader, c.authPrefix+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("premium: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("premium: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatErrorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return ModelResponse{}, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return ModelResponse{}, fmt.Errorf("premium: unmarshal response: %w", err)
	}
	var content string
	if len(cr.Choices) > 0 {
		content = cr.Choices[0].Message.Content
	}

	return ModelResponse{
		Content:      content,
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
	}, nil
}
