package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagLogLevel string
	flagConfig   string
)

var rootCmd = &cobra.Command{
	Use:   "fog-gateway",
	Short: "Fog Gateway edge processing service",
	Long: `fog-gateway sits between a fleet of constrained IoT sensors and a
cloud ingestion endpoint. It validates telemetry against a signature,
freshness, replay, and rate-limit envelope, optionally decrypts payloads,
and forwards accepted records to the cloud using short-lived service
credentials.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML file overlaying non-secret tuning knobs on top of env-derived defaults")
}

// Execute runs the root command.
func Execute(version string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("fog-gateway %s\n", version))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveLogLevel() string {
	if flagLogLevel != "" {
		return flagLogLevel
	}
	return os.Getenv("LOG_LEVEL")
}
