package unifiedllm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// AnthropicVersion is sent in the anthropic-version header.
const AnthropicVersion = "2023-06-01"

const maxErrorBody = 64 << 10

// Client posts streaming requests to providers and hands back a decoder
// for the provider's dialect.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for provider requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithResponseTimeout bounds the wait for response headers. The body of a
// healthy stream is not subject to it.
func WithResponseTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = d
		c.httpClient = &http.Client{Transport: transport}
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type openAIRequestBody struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []AnthropicMessage `json:"messages"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// Stream sends req to target and returns a decoder over the response.
// Failures before the stream starts are returned as *TransportError with
// the credential redacted.
func (c *Client) Stream(ctx context.Context, target Target, req Request) (StreamDecoder, error) {
	httpReq, err := c.buildRequest(ctx, target, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(target, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, ErrorFromStatusCode(resp.StatusCode, errorMessage(body), target.Provider.ID, target.Provider.Format, target.APIKey)
	}

	return NewStreamDecoder(target.Provider.Format, resp, c.logger), nil
}

func (c *Client) buildRequest(ctx context.Context, target Target, req Request) (*http.Request, error) {
	p := target.Provider
	var (
		url     string
		payload interface{}
	)
	switch p.Format {
	case FormatAnthropic:
		conv := ToAnthropicMessages(req.Messages)
		if conv.OrphanedToolResults > 0 {
			c.logger.Warn("tool results without a preceding tool_use were placed in a synthetic user turn",
				"provider", p.ID, "count", conv.OrphanedToolResults)
		}
		url = p.BaseURL + "/messages"
		payload = anthropicRequestBody{
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Messages:    conv.Messages,
			Tools:       ToAnthropicTools(req.Tools),
			Stream:      true,
			System:      conv.System,
			Temperature: req.Temperature,
		}
	default:
		body := openAIRequestBody{
			Model:       req.Model,
			Messages:    ToOpenAIMessages(req.Messages),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
		}
		if len(req.Tools) > 0 {
			body.Tools = ToOpenAITools(req.Tools)
			body.ToolChoice = "auto"
		}
		url = p.BaseURL + "/chat/completions"
		payload = body
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", p.ID, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, &ConfigurationError{
			SDKError: SDKError{Message: Redact(fmt.Sprintf("invalid endpoint for %s", p.Name), target.APIKey), Cause: err},
			Provider: p.ID,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	switch p.Format {
	case FormatAnthropic:
		httpReq.Header.Set("x-api-key", target.APIKey)
		httpReq.Header.Set("anthropic-version", AnthropicVersion)
	default:
		if target.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+target.APIKey)
		}
	}
	return httpReq, nil
}

func (c *Client) transportError(target Target, err error) error {
	msg := "Connection failed - check your network"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		msg = "Request timed out"
	}
	c.logger.Debug("provider request failed", "provider", target.Provider.ID, "error", Redact(err.Error(), target.APIKey))
	return &TransportError{
		SDKError: SDKError{Message: msg, Cause: err},
		Provider: target.Provider.ID,
	}
}

// errorMessage pulls error.message (or a bare error string) out of a
// provider error body.
func errorMessage(body []byte) string {
	var obj struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || len(obj.Error) == 0 {
		return ""
	}
	var detail struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(obj.Error, &detail); err == nil {
		return strings.TrimSpace(detail.Message)
	}
	var text string
	if err := json.Unmarshal(obj.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return ""
}
