package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/yf-hk/ai-meeting-digest/pkg/buildinfo"
	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handleProcessStream runs a meeting and relays its events as SSE frames.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("meetingId")
	logger := s.logger.WithContext(r.Context()).With(logging.F("meeting_id", meetingID))

	userID, ok := s.authenticate(w, r, logger)
	if !ok {
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.setCORS(w)
	w.WriteHeader(http.StatusOK)

	logger.Info("Starting event stream", logging.F("user_id", userID))

	ch := s.proc.ProcessStream(r.Context(), meetingID, userID)
	err := stream.WriteStream(r.Context(), w, ch, nil)
	switch {
	case err == nil:
		logger.Info("Event stream finished")
	case r.Context().Err() != nil:
		logger.Info("Client disconnected before the stream finished")
	default:
		logger.Warn("Event stream failed", logging.Err(err))
	}
}

// handleProcess runs a meeting to completion and answers with the aggregate.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	meetingID := r.PathValue("meetingId")
	logger := s.logger.WithContext(r.Context()).With(logging.F("meeting_id", meetingID))
	s.setCORS(w)

	userID, ok := s.authenticate(w, r, logger)
	if !ok {
		return
	}

	result, err := s.proc.Process(r.Context(), meetingID, userID)
	if err != nil {
		status := dgerrors.HTTPStatus(err)
		resp := errorResponse{Error: meeting.UserMessage(err)}
		if !dgerrors.IsPrecondition(err) {
			resp.Code = string(dgerrors.ClassifyError(err, "").Code)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("Processing failed", logging.Err(err))
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func versionHandler() http.Handler {
	return buildinfo.Handler(ServiceName)
}

// authenticate writes a plain-text 401 and returns false when the request
// has no valid session.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, logger logging.Logger) (string, bool) {
	userID, err := s.sessions.Authenticate(r)
	if err == nil && userID != "" {
		return userID, true
	}
	if err != nil && !dgerrors.IsUnauthorized(err) {
		logger.Error("Session check failed", logging.Err(err))
	} else {
		logger.Info("Unauthorized request")
	}
	s.setCORS(w)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte("Unauthorized"))
	return "", false
}

func (s *Server) setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.corsOrigin())
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", "Cache-Control, Content-Type, Authorization")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newRequestID() string {
	return uuid.NewString()
}
