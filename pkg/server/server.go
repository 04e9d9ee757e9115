// Package server exposes meeting processing over HTTP (server-sent events and
// JSON) and reports liveness over the gRPC health protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yf-hk/ai-meeting-digest/pkg/auth"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// DefaultCORSOrigin is used when no origins are configured.
const DefaultCORSOrigin = "http://localhost:3001"

// ServiceName identifies this service in /version and gRPC health.
const ServiceName = "meeting-digest"

// Processor is what the handlers need from meeting.Processor.
type Processor interface {
	Process(ctx context.Context, meetingID, userID string) (*meeting.Result, error)
	ProcessStream(ctx context.Context, meetingID, userID string) *stream.Channel
}

// Config holds listener settings.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// HealthInterval is how often the readiness check feeds gRPC health.
	HealthInterval time.Duration
}

// Server serves the HTTP API and the gRPC health service.
type Server struct {
	cfg      Config
	proc     Processor
	sessions auth.SessionProvider
	logger   logging.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	ready    func(context.Context) error
	health   *healthReporter
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics recorder and the gatherer /metrics serves.
func WithMetrics(m *observability.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithReadiness sets the check behind gRPC health, usually a database ping.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// New creates a server.
func New(cfg Config, proc Processor, sessions auth.SessionProvider, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		proc:     proc,
		sessions: sessions,
		logger:   logging.NewNopLogger(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = 15 * time.Second
	}
	if s.cfg.HealthInterval <= 0 {
		s.cfg.HealthInterval = 10 * time.Second
	}
	s.logger = s.logger.With(logging.F("component", "server"))
	s.health = newHealthReporter(s.ready, s.logger)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/meetings/{meetingId}/process-stream", s.handleProcessStream)
	mux.HandleFunc("OPTIONS /api/meetings/{meetingId}/process-stream", s.handlePreflight)
	mux.HandleFunc("POST /api/meetings/{meetingId}/process", s.handleProcess)
	mux.HandleFunc("OPTIONS /api/meetings/{meetingId}/process", s.handlePreflight)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.Handle("GET /version", versionHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.withRequestID(mux)
}

// Run serves HTTP and, when configured, gRPC health until ctx is cancelled,
// then shuts both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var grpcSrv *grpc.Server
	var grpcLis net.Listener
	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", s.cfg.GRPCAddr, err)
		}
		grpcLis = lis
		grpcSrv = grpc.NewServer()
		s.health.register(grpcSrv)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server listening", logging.F("addr", s.cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcSrv != nil {
		g.Go(func() error {
			s.logger.Info("gRPC health listening", logging.F("addr", grpcLis.Addr().String()))
			return grpcSrv.Serve(grpcLis)
		})
		g.Go(func() error {
			s.health.watch(gctx, s.cfg.HealthInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")
		s.health.shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) corsOrigin() string {
	for _, o := range s.cfg.CORSOrigins {
		if o != "" {
			return o
		}
	}
	return DefaultCORSOrigin
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
