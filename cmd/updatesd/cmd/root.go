package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tomekzaw/expo/internal/otalog"
)

var (
	updatesDir      string
	updateURL       string
	scopeKey        string
	runtimeVersion  string
	bundleAssetName string
	logLevel        string
	logPath         string

	rootCmd = &cobra.Command{
		Use:   "updatesd",
		Short: "OTA update runtime demo host",
		Long:  "updatesd drives the update engine from a terminal: check, fetch, and serve.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return otalog.Init(logLevel, logPath)
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&updatesDir, "updates-dir", "./updates", "directory holding the Catalog database and downloaded assets")
	rootCmd.PersistentFlags().StringVar(&updateURL, "update-url", "", "update server URL")
	rootCmd.PersistentFlags().StringVar(&scopeKey, "scope-key", "demo", "scope key isolating this app's updates")
	rootCmd.PersistentFlags().StringVar(&runtimeVersion, "runtime-version", "1.0.0", "runtime version advertised to the update server")
	rootCmd.PersistentFlags().StringVar(&bundleAssetName, "bundle-asset-name", "embedded-bundle.js", "filename of the binary-embedded fallback bundle")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-path", "console", "log output path, or \"console\"")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
}
