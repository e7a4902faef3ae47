// Package commands implements nexusd's cobra command tree: a root command
// plus "serve".
package commands

import (
	"github.com/spf13/cobra"
)

// Version and Commit are set by main from build-time ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nexusd",
	Short: "Nexus block-device virtualization daemon",
	Long: `nexusd composes block-device replicas into mirrored logical volumes
(Nexus instances), serving reads and writes through an internal I/O Channel
and rebuilding out-of-sync children through the Rebuild Engine.`,
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default: ./nexus.yaml)")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
