package main

import (
	"fmt"
	"io"
	"os"

	"hooky/internal/server"
	"hooky/internal/settings"
	"hooky/pkg/fileutil"

	"github.com/spf13/cobra"
)

var signSecretEnv string

var signCmd = &cobra.Command{
	Use:   "sign FILE",
	Short: "Print the X-Hub-Signature-256 header for a request body",
	Long: `Compute the X-Hub-Signature-256 value GitHub would send for a body.

The secret is read from an environment variable so it never appears in shell
history. Use "-" as FILE to read the body from stdin.

Example:
  hooky sign --secret-env WEBHOOK_SECRET event.json
  curl -X POST -H "X-Hub-Signature-256: $(hooky sign event.json)" --data-binary @event.json http://127.0.0.1:8000/`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

func init() {
	signCmd.Flags().StringVar(&signSecretEnv, "secret-env", settings.EnvWebhookSecret, "Environment variable holding the secret")
}

func runSign(cmd *cobra.Command, args []string) error {
	secret, ok := os.LookupEnv(signSecretEnv)
	if !ok {
		return fmt.Errorf("environment variable %s is not set", signSecretEnv)
	}

	body, err := readBodyArg(cmd, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), server.Sign([]byte(secret), body))
	return nil
}

func readBodyArg(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		body, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return body, nil
	}

	if !fileutil.FileExists(path) {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, nil
}
