// Package ai is the chat completion client used by the analysis stages. It
// talks to an OpenAI-compatible endpoint (OpenRouter by default) and falls
// back to a second model when the primary one is rate limited.
package ai

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

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
)

const (
	DefaultBaseURL       = "https://openrouter.ai/api/v1"
	DefaultPrimaryModel  = "google/gemini-2.5-flash"
	DefaultFallbackModel = "meta-llama/llama-3.2-3b-instruct:free"
	DefaultTemperature   = 0.1
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultTimeout       = 90 * time.Second
	DefaultReferer       = "https://github.com/yf-hk/ai-meeting-digest"
	DefaultTitle         = "AI Meeting Digest"

	maxResponseBytes = 4 << 20
)

// Config configures a Client. APIKey is injected here once; the client never
// reads the environment.
type Config struct {
	APIKey        string
	BaseURL       string
	PrimaryModel  string
	FallbackModel string
	Referer       string
	Title         string
	MaxTokens     int
	MaxRetries    int
	RetryBackoff  time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns the OpenRouter defaults without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:       DefaultBaseURL,
		PrimaryModel:  DefaultPrimaryModel,
		FallbackModel: DefaultFallbackModel,
		Referer:       DefaultReferer,
		Title:         DefaultTitle,
		MaxRetries:    DefaultMaxRetries,
		RetryBackoff:  DefaultRetryBackoff,
		Timeout:       DefaultTimeout,
	}
}

// Generator produces raw model text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
	// Configured reports whether a credential is available.
	Configured() bool
}

// APIError is a non-success answer from the provider.
type APIError struct {
	StatusCode int
	Model      string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Model, e.StatusCode, e.Body)
}

// Unwrap exposes ErrUpstreamRateLimited for 429 answers.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusTooManyRequests {
		return dgerrors.ErrUpstreamRateLimited
	}
	return nil
}

// IsRateLimited reports whether err signals rate limiting, either by status
// code or by message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			strings.Contains(strings.ToLower(apiErr.Body), "rate limit")
	}
	return dgerrors.IsRateLimitMessage(err.Error())
}

// Client is a chat completion client with model fallback.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logging.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is still wrapped
// with transient-failure retries.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records call metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for LLM call spans.
func WithTracer(t *observability.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a client. Zero fields in cfg take DefaultConfig values,
// except APIKey and MaxTokens. A negative MaxRetries disables transient
// retries and a negative Timeout disables the per-call deadline.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = def.PrimaryModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = def.FallbackModel
	}
	if cfg.Referer == "" {
		cfg.Referer = def.Referer
	}
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = def.MaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logging.MustGlobal(),
		tracer:     observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(logging.F("component", "ai_client"))

	hc := *c.httpClient
	hc.Transport = newRetryTransport(hc.Transport, cfg.MaxRetries, cfg.RetryBackoff, c.logger)
	c.httpClient = &hc

	return c
}

// Configured reports whether an API key was provided.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// Generate returns the primary model's text for prompt. If the primary model
// is rate limited the fallback model is tried once. Without an API key it
// returns ErrAIUnavailable and makes no request.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("OPENROUTER_API_KEY not found: %w", dgerrors.ErrAIUnavailable)
	}

	text, err := c.complete(ctx, c.cfg.PrimaryModel, prompt, temperature)
	if err == nil {
		return text, nil
	}
	if !IsRateLimited(err) {
		return "", err
	}

	c.logger.Warn("Primary model rate limited, trying fallback model",
		logging.F("primary", c.cfg.PrimaryModel),
		logging.F("fallback", c.cfg.FallbackModel))
	c.metrics.RecordFallback()

	text, err = c.complete(ctx, c.cfg.FallbackModel, prompt, temperature)
	if err != nil {
		return "", fmt.Errorf("fallback after rate limit: %w", err)
	}
	return text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *chatError   `json:"error,omitempty"`
}

func (c *Client) complete(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	ctx, span := c.tracer.StartLLMSpan(ctx, model)
	defer span.End()
	sh := observability.NewSpanHelper(span)

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, status, usage, err := c.do(ctx, model, prompt, temperature)
	c.metrics.RecordAICall(model, status, time.Since(start).Seconds())

	if err != nil {
		pe := dgerrors.ClassifyError(err, "llm_call")
		sh.SetError(err, string(pe.Code), dgerrors.IsRetryable(pe.Code))
		c.logger.Debug("Chat completion failed",
			logging.F("model", model),
			logging.F("status", status),
			logging.Err(err))
		return "", err
	}

	c.metrics.RecordAITokens(model, usage.PromptTokens, usage.CompletionTokens)
	sh.SetTokens(usage.PromptTokens, usage.CompletionTokens)
	sh.SetSuccess()
	return text, nil
}

func (c *Client) do(ctx context.Context, model, prompt string, temperature float64) (string, string, chatUsage, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", "error", chatUsage{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "error", chatUsage{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "error", chatUsage{}, fmt.Errorf("%s: request failed: %w", model, err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", status, chatUsage{}, fmt.Errorf("%s: read response: %w", model, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", status, chatUsage{}, &APIError{StatusCode: resp.StatusCode, Model: model, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", status, chatUsage{}, fmt.Errorf("%s: parse response: %w", model, err)
	}

	// OpenRouter reports some upstream failures inside a 200 body.
	if chatResp.Error != nil {
		code := chatResp.Error.Code
		if code == 0 {
			code = resp.StatusCode
		}
		return "", strconv.Itoa(code), chatUsage{}, &APIError{StatusCode: code, Model: model, Body: chatResp.Error.Message}
	}

	if len(chatResp.Choices) == 0 {
		return "", status, chatUsage{}, fmt.Errorf("%s: no choices in response", model)
	}

	return chatResp.Choices[0].Message.Content, status, chatResp.Usage, nil
}
