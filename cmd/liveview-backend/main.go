// Command liveview-backend serves live views over the push channel.
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
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "liveview-backend",
		Short: "Server-rendered live views over a persistent push channel",
		Long: `liveview-backend renders views on the server and keeps them live.

Clients connect to /live, receive a full snapshot and then only the
minimal patches produced by each event. Sessions survive disconnects
for a grace period and can be persisted to Redis, SQLite or S3.

Running without a subcommand is the same as "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)

	cmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)
	return cmd
}
