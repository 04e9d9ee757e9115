package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
)

// retryTransport retries transient failures (network errors and 502/503/504)
// with exponential backoff. 429 is returned untouched so the client can
// switch models instead.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	logger     logging.Logger
}

func newRetryTransport(base http.RoundTripper, maxRetries int, backoff time.Duration, logger logging.Logger) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:       base,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attemptReq := req

	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(attemptReq)

		if attempt >= t.maxRetries || !retryable(resp, err) || ctx.Err() != nil {
			return resp, err
		}
		if req.Body != nil && req.GetBody == nil {
			return resp, err
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
		}

		delay := t.backoff << attempt
		t.logger.Debug("Retrying chat completion request",
			logging.F("attempt", attempt+1),
			logging.F("status", status),
			logging.F("delay", delay),
			logging.Err(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		attemptReq = req.Clone(ctx)
		if req.GetBody != nil {
			body, gerr := req.GetBody()
			if gerr != nil {
				return nil, gerr
			}
			attemptReq.Body = body
		}
	}
}

func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return !isContextError(err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
