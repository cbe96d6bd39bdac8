package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "schoolauthd",
	Short: "schoolauthd is the authentication and authorization service of the kindergarten platform",
	Long: `Issues and validates session tokens, caches permissions and enforces the
role policy for the kindergarten management platform.

Configuration is read from a YAML file (--config) and overridden by
SCHOOLAUTH_* environment variables.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
}
