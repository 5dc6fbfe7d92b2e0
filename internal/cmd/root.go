// Package cmd implements the callsight command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fathomtel/callsight/internal/config"
	"github.com/fathomtel/callsight/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records the build identity injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "callsight",
	Short: "Call-transcript analysis routing and batch pipeline",
	Long: `callsight fetches call transcripts from the upstream platform, sizes the
workload, and either analyzes it inline or runs it as a background batch
job with durable progress tracking.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return observability.InitCLILogger(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "CLI log level (debug|info|warn|error)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads process configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
