package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
)

// healthReporter keeps the gRPC health status in line with a readiness check.
// Both the overall ("") and the named service report the same status.
type healthReporter struct {
	srv    *health.Server
	check  func(context.Context) error
	logger logging.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

func newHealthReporter(check func(context.Context) error, logger logging.Logger) *healthReporter {
	h := &healthReporter{
		srv:    health.NewServer(),
		check:  check,
		logger: logger,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *healthReporter) register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// probe runs the readiness check once and publishes the result.
func (h *healthReporter) probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if h.check != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := h.check(ctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if h.last != status {
				h.logger.Warn("Readiness check failed", logging.Err(err))
			}
		}
	}
	h.set(status)
}

func (h *healthReporter) watch(ctx context.Context, interval time.Duration) {
	h.probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

func (h *healthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	if status != h.last && h.last != healthpb.HealthCheckResponse_UNKNOWN {
		h.logger.Info("Health status changed", logging.F("status", status.String()))
	}
	h.last = status
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
}

func (h *healthReporter) shutdown() {
	h.srv.Shutdown()
}
