package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/db"
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	Config     func() *config.Config
	Connect    ConnectFunc
	Migrations func() fs.FS
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps(cfg func() *config.Config) *DbCommandDeps {
	return &DbCommandDeps{
		Config:     cfg,
		Connect:    db.Connect,
		Migrations: db.Migrations,
	}
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the meeting digest schema.

The schema migrations are compiled into the binary. They are applied in
filename order and recorded in the schema_migrations table, each in its own
transaction.

Connection settings come from DATABASE_URL or the DB_* variables, then the
database section of the config file.`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Lists the pending migrations and asks for confirmation before applying them.
If a migration fails its transaction is rolled back and no further
migrations are attempted.`,
		Example: `  digest db migrate
  digest db migrate --dry-run
  digest db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := deps.Connect(ctx, &deps.Config().Database)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations())
			if err != nil {
				return fmt.Errorf("getting migration status: %w", err)
			}
			if len(status.Pending) == 0 {
				fmt.Fprintln(out, "No pending migrations.")
				return nil
			}

			fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
			for _, m := range status.Pending {
				fmt.Fprintf(out, "  %s\n", m.Name)
			}
			fmt.Fprintln(out)

			if dryRun {
				fmt.Fprintln(out, "Dry run mode: no migrations applied.")
				return nil
			}
			if !yes && !confirm(cmd.InOrStdin(), out, "Apply these migrations? (y/N): ") {
				fmt.Fprintln(out, "Migration cancelled.")
				return nil
			}

			return runMigrations(ctx, out, pool, deps.Migrations())
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied and are compiled in
  - Pending: compiled-in migrations that have not been applied yet
  - Drift: migrations recorded in the database that this binary does not know`,
		Example: `  digest db status
  digest db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config()
			ctx := cmd.Context()
			pool, err := deps.Connect(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations())
			if err != nil {
				return fmt.Errorf("getting migration status: %w", err)
			}

			format := cfg.OutputFormat
			if output != "" {
				format = config.OutputFormat(output)
			}
			if format != config.OutputFormatJSON {
				outputPoolHealth(cmd.OutOrStdout(), cfg.Database.Redacted(), db.Check(ctx, pool))
			}
			return outputMigrationStatus(cmd.OutOrStdout(), format, status)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json")

	return cmd
}

// applyMigrations runs pending migrations without prompting; serve --migrate
// uses it.
func applyMigrations(ctx context.Context, out io.Writer, pool *pgxpool.Pool) error {
	return runMigrations(ctx, out, pool, db.Migrations())
}

func runMigrations(ctx context.Context, out io.Writer, conn db.Conn, fsys fs.FS) error {
	result, err := db.RunMigrations(ctx, conn, fsys)
	if err != nil {
		fmt.Fprintf(out, "%s %v\n", errorStyle.Render("Migration failed:"), err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintln(out, "Applied before failure:")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  %s %s\n", okStyle.Render("✓"), v)
			}
		}
		return err
	}

	for _, v := range result.Applied {
		fmt.Fprintf(out, "  %s %s\n", okStyle.Render("✓"), v)
	}
	fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Applied %d migration(s), %d already applied.", len(result.Applied), len(result.Skipped))))
	return nil
}

func outputPoolHealth(out io.Writer, target string, h *db.HealthStatus) {
	if !h.Healthy {
		fmt.Fprintf(out, "Database: %s %s (%v)\n\n", target, errorStyle.Render("unreachable"), h.Error)
		return
	}
	fmt.Fprintf(out, "Database: %s %s (ping %s, %d conns, %d idle)\n\n",
		target, okStyle.Render("ok"), h.Latency.Round(time.Millisecond), h.TotalConns, h.IdleConns)
}

func outputMigrationStatus(out io.Writer, format config.OutputFormat, status *db.MigrationStatus) error {
	if format == config.OutputFormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	return outputMigrationStatusText(out, status)
}

func outputMigrationStatusText(out io.Writer, status *db.MigrationStatus) error {
	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return nil
	}

	section := func(title string, entries []db.MigrationStatusEntry, withTime bool) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintln(out, title)
		for _, m := range entries {
			if !withTime {
				fmt.Fprintf(out, "  %s\n", m.Name)
				continue
			}
			appliedAt := "-"
			if m.AppliedAt != nil {
				appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "  %-33s %s\n", truncate(m.Name, 33), appliedAt)
		}
		fmt.Fprintln(out)
	}

	section(okStyle.Render(fmt.Sprintf("Applied Migrations (%d):", len(status.Applied))), status.Applied, true)
	section(warnStyle.Render(fmt.Sprintf("Pending Migrations (%d):", len(status.Pending))), status.Pending, false)
	section(errorStyle.Render(fmt.Sprintf("Drift (%d) - applied but unknown to this binary:", len(status.Drift))), status.Drift, true)

	fmt.Fprintf(out, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(out, ", %d drift", len(status.Drift))
	}
	fmt.Fprintln(out)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// truncate shortens s to maxLen runes, ending with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
