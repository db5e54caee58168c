package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authctl",
		Short: "Inspect keys and run the request authentication middleware",
		Long: `authctl works with publishable/secret key pairs and serves a demo
application protected by the handshake middleware.

Settings are read from CLERK_* environment variables; see internal/config.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		keysCmd(),
		handshakeURLCmd(),
		serveCmd(),
	)
	return rootCmd
}
