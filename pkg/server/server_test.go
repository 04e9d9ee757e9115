package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/yf-hk/ai-meeting-digest/pkg/auth"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/orchestrator"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

type fakeProcessor struct {
	mu     sync.Mutex
	events []stream.Event
	result *meeting.Result
	err    error
	calls  []string
}

func (f *fakeProcessor) record(meetingID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, meetingID+"/"+userID)
}

func (f *fakeProcessor) Process(_ context.Context, meetingID, userID string) (*meeting.Result, error) {
	f.record(meetingID, userID)
	return f.result, f.err
}

func (f *fakeProcessor) ProcessStream(ctx context.Context, meetingID, userID string) *stream.Channel {
	f.record(meetingID, userID)
	ch := stream.NewChannel()
	go func() {
		defer ch.Finish()
		for _, ev := range f.events {
			if err := ch.Send(ctx, ev); err != nil {
				return
			}
		}
	}()
	return ch
}

func (f *fakeProcessor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestServer(t *testing.T, proc Processor, origins ...string) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := New(Config{CORSOrigins: origins}, proc, auth.Static{"good-token": "user-1"},
		WithLogger(logging.NewNopLogger()),
		WithMetrics(observability.NewMetrics(reg), reg),
	)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestProcessStream_Unauthorized(t *testing.T) {
	proc := &fakeProcessor{}
	ts := newTestServer(t, proc)

	for _, token := range []string{"", "bad-token"} {
		resp := do(t, http.MethodGet, ts.URL+"/api/meetings/m-1/process-stream", token)
		body, _ := io.ReadAll(resp.Body)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Unauthorized", string(body))
	}
	assert.Empty(t, proc.Calls(), "no run may start without a session")
}

func TestProcessStream_RelaysFrames(t *testing.T) {
	proc := &fakeProcessor{events: []stream.Event{
		stream.StatusEvent{Message: "Starting AI analysis..."},
		stream.WarningEvent{Message: "Topic extraction failed"},
		stream.CompleteEvent{},
	}}
	ts := newTestServer(t, proc, "https://app.example.com", "https://other.example.com")

	resp := do(t, http.MethodGet, ts.URL+"/api/meetings/m-1/process-stream", "good-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	var got []stream.Event
	require.NoError(t, stream.ReadSSE(resp.Body, func(ev stream.Event) error {
		got = append(got, ev)
		return nil
	}))
	assert.Equal(t, proc.events, got)
	assert.Equal(t, []string{"m-1/user-1"}, proc.Calls())
}

func TestProcessStream_DefaultOrigin(t *testing.T) {
	proc := &fakeProcessor{events: []stream.Event{stream.CompleteEvent{}}}
	ts := newTestServer(t, proc)

	resp := do(t, http.MethodGet, ts.URL+"/api/meetings/m-1/process-stream", "good-token")
	assert.Equal(t, DefaultCORSOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func batchStageError(stage string, err error) error {
	return fmt.Errorf("%s: %w", orchestrator.MsgContentFailed, &orchestrator.StageError{Stage: stage, Err: err})
}

func TestProcess(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		proc := &fakeProcessor{result: &meeting.Result{
			Meeting:     &model.Meeting{ID: "m-1", Status: model.StatusCompleted, AnalysisComplete: true},
			ActionItems: []model.ActionItem{},
			Topics:      []model.Topic{},
		}}
		ts := newTestServer(t, proc)

		resp := do(t, http.MethodPost, ts.URL+"/api/meetings/m-1/process", "good-token")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Meeting model.Meeting `json:"meeting"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, model.StatusCompleted, body.Meeting.Status)
	})

	tests := []struct {
		name     string
		err      error
		status   int
		message  string
		withCode bool
	}{
		{"not found", fmt.Errorf("m-1: %w", dgerrors.ErrNotFoundOrForbidden), http.StatusNotFound, meeting.MsgNotFound, false},
		{"no files", dgerrors.ErrNoFilesUploaded, http.StatusUnprocessableEntity, meeting.MsgNoFiles, false},
		{"media", dgerrors.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, meeting.MsgMediaNotSupported, false},
		{"in flight", dgerrors.ErrProcessingInProgress, http.StatusConflict, meeting.MsgProcessingInFlight, false},
		{"ai unavailable", dgerrors.ErrAIUnavailable, http.StatusServiceUnavailable, meeting.MsgProcessingFailed, true},
		{"other", errors.New("boom"), http.StatusInternalServerError, meeting.MsgProcessingFailed, true},
		{
			"invalid topics",
			batchStageError(orchestrator.StageTopics, fmt.Errorf("raw model text: %w", dgerrors.ErrInvalidAIResponse)),
			http.StatusBadGateway,
			"Failed to process meeting content: topics: AI returned invalid topics format",
			true,
		},
		{
			"rate limited summary",
			batchStageError(orchestrator.StageSummary, fmt.Errorf("fallback: %w", dgerrors.ErrUpstreamRateLimited)),
			http.StatusTooManyRequests,
			"Failed to process meeting content: summary: AI service rate limited",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeProcessor{err: tt.err})

			resp := do(t, http.MethodPost, ts.URL+"/api/meetings/m-1/process", "good-token")
			assert.Equal(t, tt.status, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.withCode, body.Code != "")
		})
	}
}

func TestProcess_WrongMethod(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{})

	resp := do(t, http.MethodGet, ts.URL+"/api/meetings/m-1/process", "good-token")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{}, "https://app.example.com")

	resp := do(t, http.MethodOptions, ts.URL+"/api/meetings/m-1/process-stream", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Cache-Control")
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{})

	resp := do(t, http.MethodGet, ts.URL+"/health", "")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, ts.URL+"/version", "")
	var info map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, ServiceName, info["service_name"])

	resp = do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
}

func TestRequestIDPropagated(t *testing.T) {
	ts := newTestServer(t, &fakeProcessor{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestHealthReporter(t *testing.T) {
	ctx := context.Background()
	var failing bool
	h := newHealthReporter(func(context.Context) error {
		if failing {
			return errors.New("connection refused")
		}
		return nil
	}, logging.NewNopLogger())

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(""))

	h.probe(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(ServiceName))

	failing = true
	h.probe(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(""))
}
