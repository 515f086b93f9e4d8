// Package commands implements offline-proxy CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "offline-proxy",
	Short: "Offline-first caching proxy",
	Long: `offline-proxy serves an origin through a versioned response cache.

Responses are fetched from network first and stored, cached copies and an
offline page are served when origin is unreachable. Application instances
connect to /sw/clients/{id}/events to receive sync notifications.

Configuration can be provided with a YAML file or OFFLINE_* environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newServeCmd())
}
