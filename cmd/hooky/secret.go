package main

import (
	"fmt"
	"os"

	"hooky/internal/security"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate and check webhook secrets",
}

var secretGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a new random webhook secret",
	Long: `Print a random 64 character hex secret suitable for webhook_secret or
marketplace_webhook_secret. Paste the same value into the GitHub App settings.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := security.GenerateSecret()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

var secretCheckCmd = &cobra.Command{
	Use:   "check ENV_VAR",
	Short: "Check the strength of a secret held in an environment variable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, ok := os.LookupEnv(args[0])
		if !ok {
			return fmt.Errorf("environment variable %s is not set", args[0])
		}
		if err := security.CheckSecret([]byte(value)); err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s looks strong\n", args[0])
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretGenerateCmd)
	secretCmd.AddCommand(secretCheckCmd)
}
