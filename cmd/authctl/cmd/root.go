// Package cmd holds the authctl command tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var issuerURL string

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Operator CLI for the hivegate token issuer",
	Long: `authctl talks to a running hivegate server to inspect and manage
credentials: validate or revoke tokens, mint service tokens, and manage the
locally stored credential.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&issuerURL, "issuer", envOr("HIVEGATE_ISSUER_URL", "http://localhost:8090"),
		"base URL of the hivegate server")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// tokenFilePath is where the CLI keeps its own credential between runs.
func tokenFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".hivegate_token"), nil
}

func storedToken() (string, error) {
	path, err := tokenFilePath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no stored credential; run 'authctl set-token' first")
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func saveToken(token string) error {
	path, err := tokenFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token+"\n"), 0o600)
}

// tokenArgOrStored returns the positional token argument if given, otherwise
// the stored one.
func tokenArgOrStored(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return storedToken()
}
