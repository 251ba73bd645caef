// Package openrouter implements the CompletionClient port against the
// OpenRouter chat completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/modelgate/domain/conversation"
	"github.com/artpar/modelgate/domain/dispatch"
	"github.com/artpar/modelgate/domain/model"
	"github.com/artpar/modelgate/ports"
)

// Client talks to the OpenRouter API.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	referer string
	title   string
}

// Config contains configuration for the OpenRouter client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Referer string // HTTP-Referer header, used by OpenRouter for rankings
	Title   string // X-Title header
}

// NewClient creates a new OpenRouter client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		referer: cfg.Referer,
		title:   cfg.Title,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Complete sends a completion request to one model.
// Failures are mapped onto the dispatch error taxonomy: 429 becomes
// ErrUpstreamRateLimited, 5xx and transport errors become ErrTransient,
// and any other 4xx becomes ErrPermanent.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	body := chatRequest{
		Model:       req.ModelID,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return ports.CompletionResponse{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ports.CompletionResponse{}, &dispatch.ErrTransient{ModelID: req.ModelID, Cause: err}
		}
		// Connection failures are retryable against the next model.
		return ports.CompletionResponse{}, &dispatch.ErrTransient{ModelID: req.ModelID, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20)) // 10MB limit
	if err != nil {
		return ports.CompletionResponse{}, &dispatch.ErrTransient{ModelID: req.ModelID, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return ports.CompletionResponse{}, mapStatusError(req.ModelID, resp.StatusCode, resp.Header, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ports.CompletionResponse{}, &dispatch.ErrTransient{ModelID: req.ModelID, Cause: err}
	}
	if parsed.Error != nil {
		return ports.CompletionResponse{}, &dispatch.ErrPermanent{
			ModelID: req.ModelID,
			Detail:  parsed.Error.Message,
		}
	}
	if len(parsed.Choices) == 0 {
		return ports.CompletionResponse{}, &dispatch.ErrTransient{
			ModelID: req.ModelID,
			Cause:   errors.New("empty choices in response"),
		}
	}

	return ports.CompletionResponse{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

type modelListResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
		TopProvider struct {
			MaxCompletionTokens int `json:"max_completion_tokens"`
		} `json:"top_provider"`
	} `json:"data"`
}

// ListModels fetches the provider's current model inventory.
// Routing metadata (priority, languages, capabilities) is not part of the
// provider response; callers overlay it from configuration.
func (c *Client) ListModels(ctx context.Context) ([]model.Descriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d", resp.StatusCode)
	}

	var parsed modelListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	out := make([]model.Descriptor, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		out = append(out, model.Descriptor{
			ID:            m.ID,
			Provider:      "openrouter",
			DisplayName:   m.Name,
			ContextWindow: m.ContextLength,
			MaxOutput:     m.TopProvider.MaxCompletionTokens,
			// OpenRouter pricing is per token; descriptors carry per-1k.
			CostPer1KIn:  parsePrice(m.Pricing.Prompt) * 1000,
			CostPer1KOut: parsePrice(m.Pricing.Completion) * 1000,
			Status:       model.StatusAvailable,
			Languages:    []conversation.Language{},
			Capabilities: []model.Capability{model.CapabilityChat},
		})
	}
	return out, nil
}

// HealthCheck verifies the provider is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("provider unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
}

func mapStatusError(modelID string, status int, header http.Header, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &dispatch.ErrUpstreamRateLimited{
			ModelID:    modelID,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
		}
	case status >= 500:
		return &dispatch.ErrTransient{ModelID: modelID, StatusCode: status}
	default:
		detail := string(body)
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return &dispatch.ErrPermanent{ModelID: modelID, StatusCode: status, Detail: detail}
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func parsePrice(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// Ensure interface compliance.
var _ ports.CompletionClient = (*Client)(nil)
