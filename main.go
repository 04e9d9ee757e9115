// Package main provides the digest CLI entry point.
// digest turns meeting recordings into transcripts, summaries, action items
// and topics, either as a server or one meeting at a time.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yf-hk/ai-meeting-digest/cmd"
	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/pkg/buildinfo"
	"github.com/yf-hk/ai-meeting-digest/pkg/server"
)

// Global flags and state.
var (
	cfgFile      string
	outputFormat string
	logLevel     string

	// cfg holds the loaded configuration.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "digest",
	Short: "Meeting digest - AI transcripts, summaries and action items",
	Long: `digest analyses meeting recordings with a language model.

For each meeting it produces a transcript, an executive summary with key
points and decisions, prioritized action items, and scored discussion topics.
Results are stored in PostgreSQL next to the meeting.

COMMON WORKFLOWS:
  First run:        digest config init  →  digest auth set-key  →  digest db migrate
  Serve the API:    digest serve --grpc-addr :9090
  One meeting:      digest process <meeting-id> --user <user-id> --stream
  Check a server:   digest health  |  digest version
  Past runs:        digest runs show <meeting-id>

Run 'digest <command> --help' for flags and examples.`,
	SilenceUsage: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}
		return loadConfig()
	},
}

func loadConfig() error {
	path := cfgFile
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}
		path = p
	} else {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return err
		}
		path = expanded
	}

	loaded, err := config.LoadFrom(path, os.Getenv)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if outputFormat != "" {
		format := config.OutputFormat(outputFormat)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text or json)", outputFormat)
		}
		loaded.OutputFormat = format
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	return nil
}

// currentConfig hands the loaded configuration to subcommands.
func currentConfig() *config.Config {
	if cfg == nil {
		return config.DefaultConfig()
	}
	return cfg
}

func currentConfigPath() (string, error) {
	if cfgFile != "" {
		return config.ExpandPath(cfgFile)
	}
	return config.ConfigPath()
}

// Version command flags.
var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the digest binary.

Use 'digest health' to see the version of a running server.`,
	Example: `  digest version
  digest version --json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get(server.ServiceName)
		out := c.OutOrStdout()
		if versionOutputJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Fprintf(out, "digest version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for digest.

Bash:
  $ source <(digest completion bash)

Zsh:
  $ digest completion zsh > "${fpath[1]}/_digest"

Fish:
  $ digest completion fish | source`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		switch args[0] {
		case "bash":
			return c.Root().GenBashCompletion(out)
		case "zsh":
			return c.Root().GenZshCompletion(out)
		case "fish":
			return c.Root().GenFishCompletion(out, true)
		default:
			return c.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.meeting-digest/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output-format", "", "Default output format: text, json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	versionCmd.Flags().BoolVar(&versionOutputJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(cmd.NewServeCommand(cmd.DefaultServeDeps(currentConfig)))
	rootCmd.AddCommand(cmd.NewProcessCommand(cmd.DefaultProcessDeps(currentConfig)))
	rootCmd.AddCommand(cmd.NewDbCommand(cmd.DefaultDbDeps(currentConfig)))
	rootCmd.AddCommand(cmd.NewAuthCommand(cmd.DefaultAuthDeps()))
	rootCmd.AddCommand(cmd.NewRunsCommand(cmd.DefaultRunsDeps(currentConfig)))
	rootCmd.AddCommand(cmd.NewHealthCommand(cmd.DefaultHealthDeps(currentConfig)))
	rootCmd.AddCommand(cmd.NewConfigCommand(cmd.DefaultConfigDeps(currentConfig, currentConfigPath)))
	rootCmd.AddCommand(completionCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
