package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yf-hk/ai-meeting-digest/config"
	"github.com/yf-hk/ai-meeting-digest/credentials"
)

// AuthCommandDeps holds the dependencies for auth commands.
type AuthCommandDeps struct {
	OpenStore func() (*credentials.Store, error)
	Getenv    func(string) string
	// ReadSecret reads a line without echo when stdin is a terminal.
	ReadSecret func(in io.Reader) (string, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthCommandDeps {
	return &AuthCommandDeps{
		OpenStore: func() (*credentials.Store, error) {
			dir, err := config.ConfigDir()
			if err != nil {
				return nil, err
			}
			return credentials.NewStore(dir)
		},
		Getenv:     os.Getenv,
		ReadSecret: readSecret,
	}
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the OpenRouter API key",
		Long: `Manage the OpenRouter API key used for analysis.

The key is stored encrypted (AES-256-GCM) in credentials.yaml inside the
config directory. The encryption key lives in the system keyring, or comes
from DIGEST_ENCRYPTION_KEY or DIGEST_PASSPHRASE on hosts without one.

OPENROUTER_API_KEY always takes precedence over the stored key.`,
	}

	cmd.AddCommand(newAuthSetKeyCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	cmd.AddCommand(newAuthClearCommand(deps))
	cmd.AddCommand(newAuthRotateCommand(deps))
	return cmd
}

func newAuthSetKeyCommand(deps *AuthCommandDeps) *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the OpenRouter API key",
		Example: `  digest auth set-key
  digest auth set-key --api-key sk-or-v1-...
  echo "$KEY" | digest auth set-key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			key := apiKey
			if key == "" {
				fmt.Fprint(out, "OpenRouter API key: ")
				var err error
				key, err = deps.ReadSecret(cmd.InOrStdin())
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("reading API key: %w", err)
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("no API key provided")
			}

			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.SaveAPIKey(key); err != nil {
				return err
			}

			fmt.Fprintf(out, "%s Stored %s (%s)\n", okStyle.Render("✓"), credentials.MaskAPIKey(key), store.KeyStorage())
			if deps.Getenv(credentials.APIKeyEnv) != "" {
				fmt.Fprintln(out, warnStyle.Render("Note: OPENROUTER_API_KEY is set and takes precedence over the stored key."))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (prompted when omitted)")
	return cmd
}

func newAuthStatusCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which API key will be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, storeErr := deps.OpenStore()
			if storeErr != nil {
				store = nil
			}

			key, src, err := credentials.ResolveAPIKey(deps.Getenv, store)
			switch {
			case err == nil:
				fmt.Fprintf(out, "API key:  %s\n", credentials.MaskAPIKey(key))
				fmt.Fprintf(out, "Source:   %s\n", src)
			case errors.Is(err, credentials.ErrNoCredentials):
				fmt.Fprintln(out, warnStyle.Render("No API key configured."))
				fmt.Fprintln(out, "Run 'digest auth set-key' or set OPENROUTER_API_KEY.")
			default:
				fmt.Fprintf(out, "%s %v\n", errorStyle.Render("Stored key unreadable:"), err)
			}

			if store != nil {
				fmt.Fprintf(out, "Storage:  %s\n", store.Path())
				fmt.Fprintf(out, "Key from: %s\n", store.KeyStorage())
			} else {
				fmt.Fprintf(out, "Storage:  unavailable (%v)\n", storeErr)
			}
			fmt.Fprintf(out, "Keyring:  %s\n", availability(credentials.IsKeyringAvailable()))
			return nil
		},
	}
}

func newAuthClearCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		Long: `Remove the stored API key. OPENROUTER_API_KEY is not affected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if !store.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored API key.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Stored API key removed.\n", okStyle.Render("✓"))
			return nil
		},
	}
}

func newAuthRotateCommand(deps *AuthCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt the stored API key under a new encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Rotate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Encryption key rotated (%s)\n", okStyle.Render("✓"), store.KeyStorage())
			return nil
		},
	}
}

// readSecret reads without echo from a terminal and falls back to a plain
// line read for pipes.
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return line, nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}
