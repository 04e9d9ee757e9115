package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/config"
)

// ConfigCommandDeps holds the dependencies for config commands.
type ConfigCommandDeps struct {
	Config func() *config.Config
	// Path returns the config file the command operates on.
	Path func() (string, error)
}

// DefaultConfigDeps returns the default dependencies for production use.
func DefaultConfigDeps(cfg func() *config.Config, path func() (string, error)) *ConfigCommandDeps {
	return &ConfigCommandDeps{Config: cfg, Path: path}
}

// NewConfigCommand creates the 'config' command group.
func NewConfigCommand(deps *ConfigCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and initialize the digest configuration.

Settings are read from the config file (default ~/.meeting-digest/config.yaml,
or $DIGEST_CONFIG_DIR/config.yaml) and then overridden by environment
variables. Secrets are never written to the file.`,
	}
	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	return cmd
}

func newConfigShowCommand(deps *ConfigCommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config()
			path, _ := deps.Path()

			format := cfg.OutputFormat
			if output != "" {
				format = config.OutputFormat(output)
			}
			if format == config.OutputFormatJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(effectiveConfig(cfg, path))
			}
			printConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json")
	return cmd
}

func newConfigInitCommand(deps *ConfigCommandDeps) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := deps.Path()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}
			out := cmd.OutOrStdout()

			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", path)
				fmt.Fprintln(out, "Use --force to overwrite it.")
				return nil
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("checking config file: %w", err)
			}

			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}
			fmt.Fprintf(out, "%s Created configuration file: %s\n", okStyle.Render("✓"), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// effectiveConfig flattens cfg for display with secrets masked.
func effectiveConfig(cfg *config.Config, path string) map[string]string {
	dbTarget := fmt.Sprintf("%s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	if cfg.Database.URL != "" {
		dbTarget = "(url)"
	}
	redis := "disabled"
	if cfg.Redis.Enabled() {
		redis = cfg.Redis.Addr
		if cfg.Redis.URL != "" {
			redis = "(url)"
		}
	}
	return map[string]string{
		"config_file":      path,
		"http_addr":        cfg.Server.HTTPAddr,
		"grpc_addr":        valueOr(cfg.Server.GRPCAddr, "disabled"),
		"cors_origins":     valueOr(strings.Join(cfg.Server.CORSOrigins, ","), "*"),
		"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
		"dev_token":        setOrNot(cfg.Server.DevToken),
		"ai_base_url":      cfg.AI.BaseURL,
		"primary_model":    cfg.AI.PrimaryModel,
		"fallback_model":   cfg.AI.FallbackModel,
		"ai_timeout":       cfg.AI.Timeout.String(),
		"stage_delay":      cfg.AI.StageDelay.String(),
		"temperature":      fmt.Sprintf("%.2f", cfg.AI.Temperature),
		"database":         dbTarget,
		"redis":            redis,
		"files_root":       cfg.Files.Root,
		"runlog":           setOrNot(cfg.RunLogDSN),
		"log_level":        cfg.Log.Level,
		"output_format":    string(cfg.OutputFormat),
	}
}

func printConfig(out io.Writer, cfg *config.Config, path string) {
	v := effectiveConfig(cfg, path)
	fmt.Fprintln(out, headerStyle.Render("Effective configuration"))
	for _, key := range []string{
		"config_file", "http_addr", "grpc_addr", "cors_origins", "shutdown_timeout", "dev_token",
		"ai_base_url", "primary_model", "fallback_model", "ai_timeout", "stage_delay", "temperature",
		"database", "redis", "files_root", "runlog", "log_level", "output_format",
	} {
		fmt.Fprintf(out, "  %-17s %s\n", key+":", v[key])
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func setOrNot(v string) string {
	if v == "" {
		return "(not set)"
	}
	return "(set)"
}
