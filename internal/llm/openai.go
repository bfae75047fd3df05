package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/rca-agent/internal/config"
	"github.com/tareqmamari/rca-agent/internal/metrics"
)

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
// Transport-level failures and 5xx responses are retried by the underlying
// retryablehttp client; 429 is surfaced as a RateLimitError so the
// dedicated retry wrapper can apply its own, much slower backoff.
type HTTPClient struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	httpClient  *retryablehttp.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	tools       []ToolSpec
}

// NewHTTPClient builds a client from config.
func NewHTTPClient(cfg *config.Config, logger *zap.Logger) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	// 429 must bubble up untouched; the RetryClient owns that policy.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	var limiter *rate.Limiter
	if cfg.EnableRateLimit {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	}

	return &HTTPClient{
		endpoint:    strings.TrimRight(cfg.LLMEndpoint, "/"),
		model:       cfg.LLMModel,
		apiKey:      cfg.LLMAPIKey,
		temperature: cfg.Temperature,
		httpClient:  rc,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// WithTools returns a copy advertising the given tools.
func (c *HTTPClient) WithTools(tools []ToolSpec) Client {
	clone := *c
	clone.tools = tools
	return &clone
}

// Wire types for the chat completions API.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the conversation and returns the assistant's reply.
func (c *HTTPClient) Complete(ctx context.Context, msgs []Message) (Message, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return Message{}, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	reqBody := completionRequest{
		Model:       c.model,
		Temperature: c.temperature,
	}
	for _, m := range msgs {
		reqBody.Messages = append(reqBody.Messages, toWire(m))
	}
	for _, t := range c.tools {
		reqBody.Tools = append(reqBody.Tools, wireTool{
			Type: "function",
			Function: wireToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.endpoint + "/chat/completions"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		metrics.RecordLLMCall(false, duration)
		return Message{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("LLM completion finished",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.Int("messages", len(msgs)),
		zap.Int("tools", len(c.tools)),
	)

	metrics.RecordLLMCall(resp.StatusCode == http.StatusOK, duration)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0.0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, parseErr := strconv.ParseFloat(v, 64); parseErr == nil {
				retryAfter = secs
			}
		}
		return Message{}, &RateLimitError{RetryAfter: retryAfter, Body: string(body)}
	}

	if resp.StatusCode != http.StatusOK {
		return Message{}, fmt.Errorf("llm endpoint returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Message{}, fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return Message{}, fmt.Errorf("llm endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Message{}, fmt.Errorf("llm endpoint returned no choices")
	}

	return fromWire(parsed.Choices[0].Message), nil
}

func toWire(m Message) wireMessage {
	wm := wireMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, tc := range m.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: wireFunction{Name: tc.Name, Arguments: string(args)},
		})
	}
	return wm
}

func fromWire(wm wireMessage) Message {
	m := Message{
		Role:       Role(wm.Role),
		Content:    wm.Content,
		ToolCallID: wm.ToolCallID,
		Name:       wm.Name,
	}
	for _, tc := range wm.ToolCalls {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if tc.Function.Arguments != "" {
			// Malformed arguments become an empty map; the tool itself
			// reports the missing parameters back to the model.
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil {
				call.Arguments = map[string]any{}
			}
		}
		m.ToolCalls = append(m.ToolCalls, call)
	}
	return m
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
