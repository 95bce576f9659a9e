package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"wpback/internal/logger"
)

// Version of the tool, recorded in every backup manifest.
const Version = "1.1.0"

// ConfigFile is the path to the optional YAML configuration.
var (
	ConfigFile string
	rootCmd    = &cobra.Command{
		Use:   "wpback",
		Short: "Backup tool for WordPress sites",
		Long: `wpback downloads the content of a WordPress site through the REST API
and saves it locally, with optional media download, archive creation,
and upload to S3-compatible object storage. Authentication is optional;
without credentials only publicly visible content is backed up.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command. Any error exits with status 1.
func Execute() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(backupCmd)
}
