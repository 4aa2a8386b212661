package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"go.pilab.hu/hivegate/client"
)

func newClient() *client.IssuerClient {
	return client.New(issuerURL, nil)
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

var setTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store a credential for later authctl commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := saveToken(args[0]); err != nil {
			return err
		}
		path, _ := tokenFilePath()
		fmt.Printf("Credential stored in %s\n", path)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [token]",
	Short: "Check a credential against the issuer",
	Long: `Validates the given credential, or the stored one when no argument is
given, and prints the embedded user attributes on success.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := tokenArgOrStored(args)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		result, err := newClient().Validate(ctx, token)
		if err != nil {
			return fmt.Errorf("issuer unreachable: %w", err)
		}
		if !result.Valid {
			fmt.Fprintf(os.Stderr, "Credential is INVALID (%s)\n", result.Reason)
			os.Exit(1)
		}

		fmt.Println("Credential is valid.")
		out, _ := yaml.Marshal(result.User)
		fmt.Print(string(out))
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke [token]",
	Short: "Revoke a credential's session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := tokenArgOrStored(args)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()

		if err := newClient().Revoke(ctx, token); err != nil {
			return fmt.Errorf("revoke failed: %w", err)
		}
		fmt.Println("Session revoked.")
		return nil
	},
}

var serviceTokenCmd = &cobra.Command{
	Use:   "service-token",
	Short: "Mint a service-to-service credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		calling, _ := cmd.Flags().GetString("calling")
		target, _ := cmd.Flags().GetString("target")
		if calling == "" || target == "" {
			return fmt.Errorf("--calling and --target are required")
		}

		ctx, cancel := commandContext()
		defer cancel()

		token, err := newClient().ServiceToken(ctx, calling, target)
		if err != nil {
			return fmt.Errorf("minting service token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Print the issuer's published verification keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		set, err := newClient().JWKS(ctx)
		if err != nil {
			return fmt.Errorf("fetching key set: %w", err)
		}
		out, _ := yaml.Marshal(set)
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	serviceTokenCmd.Flags().String("calling", "", "name of the calling service")
	serviceTokenCmd.Flags().String("target", "", "name of the target service")

	rootCmd.AddCommand(setTokenCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(serviceTokenCmd)
	rootCmd.AddCommand(keysCmd)
}
