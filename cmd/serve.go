package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/server"
)

// ServeCommandDeps holds the dependencies for the serve command.
type ServeCommandDeps struct {
	Config  func() *config.Config
	Runtime *RuntimeDeps
	// Run blocks serving until ctx is cancelled. Tests replace it.
	Run func(ctx context.Context, srv *server.Server) error
}

// DefaultServeDeps returns the production dependencies.
func DefaultServeDeps(cfg func() *config.Config) *ServeCommandDeps {
	return &ServeCommandDeps{
		Config:  cfg,
		Runtime: DefaultRuntimeDeps(),
		Run:     func(ctx context.Context, srv *server.Server) error { return srv.Run(ctx) },
	}
}

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *ServeCommandDeps) *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		origins  []string
		migrate  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the meeting digest HTTP server",
		Long: `Run the meeting digest server.

Endpoints:
  GET  /api/meetings/{id}/process-stream   Server-sent events, one per stage
  POST /api/meetings/{id}/process          Batch run, JSON result
  GET  /health                             Liveness
  GET  /version                            Build information
  GET  /metrics                            Prometheus metrics

Requests authenticate with the session cookie or an Authorization: Bearer
header. With --grpc-addr the standard gRPC health service is served too,
reporting SERVING while the database answers pings.

The OpenRouter API key is read from OPENROUTER_API_KEY, falling back to the
key stored with 'digest auth set-key'.`,
		Example: `  digest serve
  digest serve --http-addr :8080 --grpc-addr :9090
  digest serve --migrate --cors-origin https://app.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config()
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddr = grpcAddr
			}
			if len(origins) > 0 {
				cfg.Server.CORSOrigins = origins
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := NewLogger(cfg)
			logging.SetGlobal(logger)

			rt, err := NewRuntime(ctx, cfg, logger, deps.Runtime)
			if err != nil {
				return err
			}
			defer rt.Close()

			if migrate {
				if err := applyMigrations(ctx, cmd.OutOrStdout(), rt.Pool); err != nil {
					return err
				}
			}

			srv := server.New(server.Config{
				HTTPAddr:        cfg.Server.HTTPAddr,
				GRPCAddr:        cfg.Server.GRPCAddr,
				CORSOrigins:     cfg.Server.CORSOrigins,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, rt.Processor, rt.Sessions,
				server.WithLogger(logger),
				server.WithMetrics(rt.Metrics, rt.Registry),
				server.WithReadiness(rt.Ready),
			)

			logger.Info("Starting meeting digest server",
				logging.F("http_addr", cfg.Server.HTTPAddr),
				logging.F("grpc_addr", cfg.Server.GRPCAddr),
				logging.F("api_key_source", string(rt.KeySource)),
				logging.F("primary_model", cfg.AI.PrimaryModel))

			return deps.Run(ctx, srv)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default :3000)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (disabled when empty)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "Allowed CORS origin (repeatable; first one is sent)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending database migrations before serving")

	return cmd
}
