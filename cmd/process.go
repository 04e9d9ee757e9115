package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/meeting"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// ProcessCommandDeps holds the dependencies for the process command.
type ProcessCommandDeps struct {
	Config     func() *config.Config
	Runtime    *RuntimeDeps
	HTTPClient *http.Client
}

// DefaultProcessDeps returns the default dependencies for production use.
func DefaultProcessDeps(cfg func() *config.Config) *ProcessCommandDeps {
	return &ProcessCommandDeps{
		Config:     cfg,
		Runtime:    DefaultRuntimeDeps(),
		HTTPClient: &http.Client{},
	}
}

type processOptions struct {
	userID     string
	stream     bool
	bestEffort bool
	server  string
	token   string
	output  string
	timeout time.Duration
}

// NewProcessCommand creates the 'process' command.
func NewProcessCommand(deps *ProcessCommandDeps) *cobra.Command {
	opts := &processOptions{}

	cmd := &cobra.Command{
		Use:   "process <meeting-id>",
		Short: "Generate the transcript, summary, action items and topics for a meeting",
		Long: `Run a meeting through analysis.

By default the run happens in this process against the configured database,
on behalf of --user. With --server the request goes to a running
'digest serve' instead, authenticated with --token.

--stream prints each stage as it finishes. Without it the command waits for
the whole run and fails if any stage fails; --best-effort keeps what the
other stages produced and reports the failed ones as warnings instead.`,
		Example: `  digest process 6f1c... --user u_123
  digest process 6f1c... --user u_123 --stream
  digest process 6f1c... --user u_123 --best-effort
  digest process 6f1c... --server http://localhost:3000 --token $SESSION --stream
  digest process 6f1c... --user u_123 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.timeout)
				defer cancel()
			}

			cfg := deps.Config()
			jsonOut := opts.output == string(config.OutputFormatJSON) ||
				(opts.output == "" && cfg.OutputFormat == config.OutputFormatJSON)

			if opts.bestEffort && (opts.stream || opts.server != "") {
				return errors.New("--best-effort applies to local batch runs only")
			}
			if opts.server != "" {
				return runRemoteProcess(ctx, cmd.OutOrStdout(), deps.HTTPClient, args[0], opts, jsonOut)
			}
			if opts.userID == "" {
				return errors.New("--user is required when processing locally")
			}
			return runLocalProcess(ctx, cmd.OutOrStdout(), deps, cfg, args[0], opts, jsonOut)
		},
	}

	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "User id that owns the meeting (local runs)")
	cmd.Flags().BoolVarP(&opts.stream, "stream", "s", false, "Print each stage as it completes")
	cmd.Flags().BoolVar(&opts.bestEffort, "best-effort", false, "Keep successful stages when another stage fails")
	cmd.Flags().StringVar(&opts.server, "server", "", "Base URL of a running digest server")
	cmd.Flags().StringVar(&opts.token, "token", "", "Session token for --server")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output format: text, json")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Give up after this long (0 = no limit)")

	return cmd
}

func runLocalProcess(ctx context.Context, out io.Writer, deps *ProcessCommandDeps, cfg *config.Config, meetingID string, opts *processOptions, jsonOut bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := NewLogger(cfg)
	rt, err := NewRuntime(ctx, cfg, logger, deps.Runtime)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx = logging.WithUserID(ctx, opts.userID)

	if !opts.stream {
		process := rt.Processor.Process
		if opts.bestEffort {
			process = rt.Processor.ProcessBestEffort
		}
		result, err := process(ctx, meetingID, opts.userID)
		if err != nil {
			return fmt.Errorf("%s: %w", meeting.UserMessage(err), err)
		}
		return writeResult(out, result, jsonOut)
	}

	ch := rt.Processor.ProcessStream(ctx, meetingID, opts.userID)
	defer ch.Close()
	for {
		ev, ok := ch.Next(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("stream ended before processing finished")
		}
		if err := writeEvent(out, ev, jsonOut); err != nil {
			return err
		}
		if stream.IsTerminal(ev) {
			return terminalError(ev)
		}
	}
}

func runRemoteProcess(ctx context.Context, out io.Writer, client *http.Client, meetingID string, opts *processOptions, jsonOut bool) error {
	base := strings.TrimRight(opts.server, "/")
	path := "/api/meetings/" + url.PathEscape(meetingID)

	method, endpoint := http.MethodPost, base+path+"/process"
	if opts.stream {
		method, endpoint = http.MethodGet, base+path+"/process-stream"
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	if opts.stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contacting %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return remoteError(resp)
	}

	if !opts.stream {
		var result meeting.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return writeResult(out, &result, jsonOut)
	}

	var terminal stream.Event
	err = stream.ReadSSE(resp.Body, func(ev stream.Event) error {
		if stream.IsTerminal(ev) {
			terminal = ev
		}
		return writeEvent(out, ev, jsonOut)
	})
	if err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	if terminal == nil {
		return errors.New("stream ended before processing finished")
	}
	return terminalError(terminal)
}

// remoteError turns a non-200 response into an error carrying the server's
// message.
func remoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		if payload.Code != "" {
			return fmt.Errorf("server returned %d: %s [%s]", resp.StatusCode, payload.Error, payload.Code)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func terminalError(ev stream.Event) error {
	if e, ok := ev.(stream.ErrorEvent); ok {
		return errors.New(e.Message)
	}
	return nil
}

func writeResult(out io.Writer, result *meeting.Result, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	renderResult(out, result)
	return nil
}

// writeEvent prints ev as a text block or as one JSON line in the wire
// format.
func writeEvent(out io.Writer, ev stream.Event, jsonOut bool) error {
	if !jsonOut {
		renderEvent(out, ev)
		return nil
	}
	data, err := stream.Encode(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", data)
	return err
}
