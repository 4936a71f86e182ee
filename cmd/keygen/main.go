// Command keygen creates an API key and prints the hash to list under
// auth.api_key_hashes in config.yaml.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/pipeline-gateway/internal/pkg/auth"
)

func main() {
	if err := rootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "keygen [api-key]",
		Short: "Hash an API key for config.yaml",
		Long: `keygen prints the SHA-256 hash of an API key for auth.api_key_hashes.
Without an argument it generates a random key first.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var apiKey string
			if len(args) == 1 {
				apiKey = args[0]
			} else {
				if size < 16 {
					return fmt.Errorf("--bytes must be at least 16, got %d", size)
				}
				buf := make([]byte, size)
				if _, err := rand.Read(buf); err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				apiKey = "pgw_" + hex.EncodeToString(buf)
			}
			if apiKey == "" {
				return fmt.Errorf("api key cannot be empty")
			}

			keyHash := auth.HashAPIKey(apiKey)
			fmt.Fprintf(out, "API Key: %s\n", apiKey)
			fmt.Fprintf(out, "SHA-256 Hash: %s\n", keyHash)
			fmt.Fprintln(out, "\nAdd this to your config.yaml:")
			fmt.Fprintln(out, "auth:")
			fmt.Fprintln(out, "  api_key_hashes:")
			fmt.Fprintf(out, "    - %q\n", keyHash)
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 32, "Random bytes in a generated key")

	return cmd
}
