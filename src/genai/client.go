// Package genai is the streaming client for the Gemini-style generation
// API. Responses arrive as a JSON array of chunk objects which the client
// exposes through aisdk.StreamInterface.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/scaffoldhq/scaffold/src/aisdk"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when the config leaves the model empty.
	DefaultModel = "gemini-2.0-flash"
	// DefaultTimeout bounds one streaming request end to end.
	DefaultTimeout = 120 * time.Second
	// DefaultMaxRetries bounds transport-level retry attempts.
	DefaultMaxRetries = 3
)

// Config holds client configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// Client talks to the generation API. It implements aisdk.Provider.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client, applying defaults for unset config fields.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     config.Logger.With("component", "genai"),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.config.Model }

// StreamGenerate starts a streaming generation request. The caller owns the
// returned stream and must Close it.
func (c *Client) StreamGenerate(ctx context.Context, req *aisdk.GenerateRequest) (aisdk.StreamInterface, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s", c.config.BaseURL, model, c.config.APIKey)

	resp, err := c.doWithRetry(ctx, url, body)
	if err != nil {
		return nil, err
	}

	return newStream(resp.Body), nil
}

// doWithRetry issues the request with exponential backoff and jitter.
// Client errors (4xx other than 429) are permanent and never retried.
func (c *Client) doWithRetry(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	operation := func() error {
		attempt++

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		r, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if r.StatusCode != http.StatusOK {
			apiErr := c.parseError(r)
			r.Body.Close()
			if !apiErr.IsRetryable() {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}

		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	// jittered by RandomizationFactor default

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying request", "attempt", attempt, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) parseError(r *http.Response) *APIError {
	apiErr := &APIError{
		StatusCode: r.StatusCode,
		Message:    http.StatusText(r.StatusCode),
		RequestID:  r.Header.Get("X-Request-Id"),
	}

	if ra := r.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apiErr
	}

	var envelope ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Status = envelope.Error.Status
	}

	return apiErr
}

// wire types

type generateContentRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []toolDeclaration `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type toolDeclaration struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// buildRequest folds the neutral request into the Gemini wire shape:
// assistant history becomes model turns, function results become
// functionResponse parts, and the system prompt rides separately.
func buildRequest(req *aisdk.GenerateRequest) *generateContentRequest {
	out := &generateContentRequest{}

	if req.SystemPrompt != "" {
		out.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			c := content{Role: "model"}
			if msg.Content != "" {
				c.Parts = append(c.Parts, part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				c.Parts = append(c.Parts, part{FunctionCall: &functionCall{
					Name: tc.Function.Name,
					Args: tc.Function.Arguments,
				}})
			}
			if len(c.Parts) > 0 {
				out.Contents = append(out.Contents, c)
			}
		case "tool", "function":
			response := json.RawMessage(msg.Content)
			if !json.Valid(response) {
				quoted, _ := json.Marshal(map[string]string{"output": msg.Content})
				response = quoted
			}
			out.Contents = append(out.Contents, content{
				Role:  "user",
				Parts: []part{{FunctionResponse: &functionResponse{Name: msg.Name, Response: response}}},
			})
		default:
			out.Contents = append(out.Contents, content{
				Role:  "user",
				Parts: []part{{Text: msg.Content}},
			})
		}
	}

	if len(req.Tools) > 0 {
		decl := toolDeclaration{}
		for _, tool := range req.Tools {
			decl.FunctionDeclarations = append(decl.FunctionDeclarations, functionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
		out.Tools = []toolDeclaration{decl}
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	return out
}
