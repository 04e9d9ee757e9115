package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/observability"
	"github.com/yf-hk/ai-meeting-digest/pkg/runlog"
)

// HistorySource is the read side of the run log.
type HistorySource interface {
	History(ctx context.Context, meetingID string, limit int) ([]runlog.Entry, error)
	Close() error
}

// RunsCommandDeps holds the dependencies for run log commands.
type RunsCommandDeps struct {
	Config func() *config.Config
	Open   func(dsn string) (HistorySource, error)
}

// DefaultRunsDeps returns the default dependencies for production use.
func DefaultRunsDeps(cfg func() *config.Config) *RunsCommandDeps {
	return &RunsCommandDeps{
		Config: cfg,
		Open: func(dsn string) (HistorySource, error) {
			return runlog.Open(dsn)
		},
	}
}

// NewRunsCommand creates the 'runs' command group.
func NewRunsCommand(deps *RunsCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the processing run log",
		Long: `Inspect the processing run log.

Every batch or streamed run records one row with its outcome, warnings,
duration and trace id when DIGEST_RUNLOG_DSN (or runlog_dsn in the config
file) is set.`,
	}
	cmd.AddCommand(newRunsShowCommand(deps))
	return cmd
}

func newRunsShowCommand(deps *RunsCommandDeps) *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:     "show <meeting-id>",
		Short:   "Show recent runs of a meeting",
		Args:    cobra.ExactArgs(1),
		Example: `  digest runs show 6f1c... --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config()
			if cfg.RunLogDSN == "" {
				return errors.New("run log not configured; set DIGEST_RUNLOG_DSN")
			}
			src, err := deps.Open(cfg.RunLogDSN)
			if err != nil {
				return err
			}
			defer src.Close()

			entries, err := src.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			format := cfg.OutputFormat
			if output != "" {
				format = config.OutputFormat(output)
			}
			if format == config.OutputFormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []runlog.Entry{}
				}
				return enc.Encode(entries)
			}
			printRuns(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json")
	return cmd
}

func printRuns(out io.Writer, entries []runlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	fmt.Fprintf(out, "%-20s %-7s %-9s %-10s %8s  %s\n", "WHEN", "MODE", "OUTCOME", "STATUS", "DURATION", "DETAIL")
	for _, e := range entries {
		outcome := fmt.Sprintf("%-9s", e.Outcome)
		switch e.Outcome {
		case observability.OutcomeSuccess:
			outcome = okStyle.Render(outcome)
		case observability.OutcomeWarning, observability.OutcomeRejected:
			outcome = warnStyle.Render(outcome)
		default:
			outcome = errorStyle.Render(outcome)
		}
		detail := e.ErrorMessage
		if detail == "" && len(e.Warnings) > 0 {
			detail = fmt.Sprintf("%d warning(s): %s", len(e.Warnings), e.Warnings[0])
		}
		fmt.Fprintf(out, "%-20s %-7s %s %-10s %8s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Mode,
			outcome,
			e.Status,
			(time.Duration(e.DurationMs) * time.Millisecond).Round(time.Millisecond),
			truncate(detail, 60))
	}
}
