package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/server"
)

// HealthStatus is the combined result of probing a running server.
type HealthStatus struct {
	Overall   string                  `json:"overall"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]ProbeOutcome `json:"checks"`
	Version   map[string]string       `json:"version,omitempty"`
}

// ProbeOutcome is the result of one probe.
type ProbeOutcome struct {
	Status  string `json:"status"`
	Target  string `json:"target"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthCommandDeps holds the dependencies for the health command.
type HealthCommandDeps struct {
	Config     func() *config.Config
	HTTPClient *http.Client
	// CheckGRPC asks the gRPC health service at addr for service.
	CheckGRPC func(ctx context.Context, addr, service string) (string, error)
}

// DefaultHealthDeps returns the default dependencies for production use.
func DefaultHealthDeps(cfg func() *config.Config) *HealthCommandDeps {
	return &HealthCommandDeps{
		Config:     cfg,
		HTTPClient: &http.Client{},
		CheckGRPC:  checkGRPCHealth,
	}
}

// NewHealthCommand creates the 'health' command.
func NewHealthCommand(deps *HealthCommandDeps) *cobra.Command {
	var (
		baseURL  string
		grpcAddr string
		timeout  time.Duration
		output   string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running digest server",
		Long: `Check a running 'digest serve'.

Probes GET /health and GET /version over HTTP and, when a gRPC address is
known, the standard gRPC health service. The gRPC status follows the
server's database readiness.

Exits non-zero when any probe fails.`,
		Example: `  digest health
  digest health --url http://digest.internal:3000 --grpc-addr digest.internal:9090
  digest health --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if baseURL == "" {
				baseURL = localURL(cfg.Server.HTTPAddr)
			}
			if grpcAddr == "" {
				grpcAddr = cfg.Server.GRPCAddr
			}

			status := probeServer(ctx, deps, strings.TrimRight(baseURL, "/"), grpcAddr)

			format := cfg.OutputFormat
			if output != "" {
				format = config.OutputFormat(output)
			}
			if format == config.OutputFormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return err
				}
			} else {
				printHealth(cmd.OutOrStdout(), status)
			}

			if status.Overall != "healthy" {
				return fmt.Errorf("server is %s", status.Overall)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "Base URL of the server (default derived from server.http_addr)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health address (default server.grpc_addr)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Timeout for all probes")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json")

	return cmd
}

func probeServer(ctx context.Context, deps *HealthCommandDeps, baseURL, grpcAddr string) *HealthStatus {
	status := &HealthStatus{
		Overall:   "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]ProbeOutcome),
	}

	status.Checks["http"] = probeHTTP(ctx, deps.HTTPClient, baseURL+"/health")

	if v, err := fetchVersion(ctx, deps.HTTPClient, baseURL+"/version"); err == nil {
		status.Version = v
	}

	if grpcAddr != "" {
		start := time.Now()
		outcome := ProbeOutcome{Target: grpcAddr}
		serving, err := deps.CheckGRPC(ctx, grpcAddr, server.ServiceName)
		outcome.Latency = time.Since(start).Round(time.Millisecond).String()
		switch {
		case err != nil:
			outcome.Status = "unreachable"
			outcome.Error = err.Error()
		case serving != healthpb.HealthCheckResponse_SERVING.String():
			outcome.Status = "unhealthy"
			outcome.Error = serving
		default:
			outcome.Status = "healthy"
		}
		status.Checks["grpc"] = outcome
	}

	for _, c := range status.Checks {
		if c.Status != "healthy" {
			status.Overall = "unhealthy"
		}
	}
	return status
}

func probeHTTP(ctx context.Context, client *http.Client, url string) ProbeOutcome {
	outcome := ProbeOutcome{Target: url}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		outcome.Status = "unreachable"
		outcome.Error = err.Error()
		return outcome
	}
	resp, err := client.Do(req)
	outcome.Latency = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		outcome.Status = "unreachable"
		outcome.Error = err.Error()
		return outcome
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		outcome.Status = "unhealthy"
		outcome.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return outcome
	}
	outcome.Status = "healthy"
	return outcome
}

func fetchVersion(ctx context.Context, client *http.Client, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var v map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkGRPCHealth calls grpc.health.v1.Health/Check over a plaintext
// connection.
func checkGRPCHealth(ctx context.Context, addr, service string) (string, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}

// localURL turns a listen address such as ":3000" into a URL on localhost.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func printHealth(out io.Writer, status *HealthStatus) {
	overall := okStyle.Render("HEALTHY")
	if status.Overall != "healthy" {
		overall = errorStyle.Render(strings.ToUpper(status.Overall))
	}
	fmt.Fprintf(out, "Overall: %s\n\n", overall)

	for _, name := range []string{"http", "grpc"} {
		c, ok := status.Checks[name]
		if !ok {
			continue
		}
		mark := okStyle.Render("✓")
		if c.Status != "healthy" {
			mark = errorStyle.Render("✗")
		}
		fmt.Fprintf(out, "  %s %-5s %-40s %s\n", mark, name, truncate(c.Target, 40), dimStyle.Render(c.Latency))
		if c.Error != "" {
			fmt.Fprintf(out, "          %s\n", errorStyle.Render(c.Error))
		}
	}

	if len(status.Version) > 0 {
		fmt.Fprintf(out, "\nVersion: %s (commit %s, up %s)\n",
			status.Version["version"], status.Version["commit"], status.Version["uptime"])
	}
}
