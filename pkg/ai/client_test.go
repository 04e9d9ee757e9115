package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
)

// fakeProvider records the model of every request and delegates the answer.
type fakeProvider struct {
	mu     sync.Mutex
	models []string
	answer func(call int, model string, w http.ResponseWriter)
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	call := len(f.models)
	f.models = append(f.models, req.Model)
	f.mu.Unlock()

	f.answer(call, req.Model, w)
}

func (f *fakeProvider) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.models...)
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    "gen-1",
		"model": "m",
		"choices": []map[string]interface{}{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4},
	})
}

func newTestClient(t *testing.T, srv *httptest.Server, key string, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = key
	cfg.BaseURL = srv.URL + "/api/v1/"
	cfg.RetryBackoff = time.Millisecond
	cfg.Timeout = 5 * time.Second
	return NewClient(cfg, append([]Option{WithLogger(logging.NewNopLogger())}, opts...)...)
}

func TestGenerate_Success(t *testing.T) {
	var got chatRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeCompletion(w, "```json\n{\"ok\":true}\n```")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "sk-test")
	text, err := client.Generate(context.Background(), "Summarize this", DefaultTemperature)
	require.NoError(t, err)

	assert.Equal(t, "```json\n{\"ok\":true}\n```", text, "raw text is returned untouched")
	assert.Equal(t, DefaultPrimaryModel, got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "Summarize this", got.Messages[0].Content)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, DefaultReferer, headers.Get("HTTP-Referer"))
	assert.Equal(t, DefaultTitle, headers.Get("X-Title"))
}

func TestGenerate_NotConfigured(t *testing.T) {
	fake := &fakeProvider{answer: func(int, string, http.ResponseWriter) {}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := newTestClient(t, srv, "")
	assert.False(t, client.Configured())

	_, err := client.Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)
	assert.True(t, dgerrors.IsAIUnavailable(err))
	assert.Empty(t, fake.calls(), "no HTTP call may be attempted without a key")
}

func TestGenerate_FallbackOn429(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		if model == DefaultPrimaryModel {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"Rate limit exceeded","code":429}}`)
			return
		}
		writeCompletion(w, `{"topics":[]}`)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	client := newTestClient(t, srv, "sk-test", WithMetrics(metrics))

	text, err := client.Generate(context.Background(), "x", DefaultTemperature)
	require.NoError(t, err)
	assert.Equal(t, `{"topics":[]}`, text)
	assert.Equal(t, []string{DefaultPrimaryModel, DefaultFallbackModel}, fake.calls(), "429 is not retried on the primary")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AIFallbacksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AICallsTotal.WithLabelValues(DefaultPrimaryModel, "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AICallsTotal.WithLabelValues(DefaultFallbackModel, "200")))
}

func TestGenerate_FallbackOnRateLimitInBody(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		if call == 0 {
			fmt.Fprint(w, `{"error":{"message":"Rate limit exceeded: free-models-per-day"}}`)
			return
		}
		writeCompletion(w, "fallback text")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	text, err := newTestClient(t, srv, "sk-test").Generate(context.Background(), "x", DefaultTemperature)
	require.NoError(t, err)
	assert.Equal(t, "fallback text", text)
	assert.Equal(t, []string{DefaultPrimaryModel, DefaultFallbackModel}, fake.calls())
}

func TestGenerate_BothModelsRateLimited(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv, "sk-test").Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)
	assert.True(t, dgerrors.IsUpstreamRateLimited(err))
	assert.Equal(t, http.StatusTooManyRequests, dgerrors.HTTPStatus(err))
	assert.Len(t, fake.calls(), 2)
}

func TestGenerate_OtherErrorsPropagate(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"context length exceeded","code":400}}`)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newTestClient(t, srv, "sk-test").Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, DefaultPrimaryModel, apiErr.Model)
	assert.False(t, dgerrors.IsUpstreamRateLimited(err))
	assert.Equal(t, []string{DefaultPrimaryModel}, fake.calls())
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		if call < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "third time lucky")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	text, err := newTestClient(t, srv, "sk-test").Generate(context.Background(), "x", DefaultTemperature)
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", text)
	assert.Equal(t, []string{DefaultPrimaryModel, DefaultPrimaryModel, DefaultPrimaryModel}, fake.calls())
}

func TestGenerate_RetriesExhausted(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "bad gateway")
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "sk-test"
	cfg.BaseURL = srv.URL
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	client := NewClient(cfg, WithLogger(logging.NewNopLogger()))

	_, err := client.Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Len(t, fake.calls(), 3, "one attempt plus two retries")
}

func TestGenerate_DefaultRetries(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, RetryBackoff: time.Millisecond},
		WithLogger(logging.NewNopLogger()))

	_, err := client.Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)
	assert.Len(t, fake.calls(), DefaultMaxRetries+1)
}

func TestNewClient_NegativeRetriesDisable(t *testing.T) {
	fake := &fakeProvider{answer: func(call int, model string, w http.ResponseWriter) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL, MaxRetries: -1},
		WithLogger(logging.NewNopLogger()))

	_, err := client.Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)
	assert.Len(t, fake.calls(), 1)
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"x","choices":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "sk-test").Generate(context.Background(), "x", DefaultTemperature)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestGenerate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "late")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv, "sk-test").Generate(ctx, "x", DefaultTemperature)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &APIError{StatusCode: 429}, true},
		{"wrapped 429", fmt.Errorf("x: %w", &APIError{StatusCode: 429}), true},
		{"body message", &APIError{StatusCode: 200, Body: "Rate limit exceeded"}, true},
		{"500 with digits", &APIError{StatusCode: 500, Body: `{"tokens":429}`}, false},
		{"plain message", errors.New("provider said: rate limit hit"), true},
		{"quota", errors.New("RESOURCE_EXHAUSTED"), true},
		{"other", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{APIKey: "k"}, WithLogger(logging.NewNopLogger()))
	assert.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
	assert.Equal(t, DefaultPrimaryModel, c.cfg.PrimaryModel)
	assert.Equal(t, DefaultFallbackModel, c.cfg.FallbackModel)
	assert.Equal(t, DefaultMaxRetries, c.cfg.MaxRetries)
	assert.Equal(t, DefaultTimeout, c.cfg.Timeout)
	assert.Equal(t, DefaultReferer, c.cfg.Referer)
	assert.Equal(t, DefaultTitle, c.cfg.Title)
	assert.IsType(t, &retryTransport{}, c.httpClient.Transport)
}
