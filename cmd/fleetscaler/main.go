//go:build !lambda

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetscaler/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetscaler",
	Short: "Reconciles Jenkins-compatible build executors against cloud VMs",
	Long: `fleetscaler is a periodically invoked control loop that reconciles the
set of build executors registered with a Jenkins-compatible master against
the cloud VMs that back them: it reads queue pressure and idle capacity,
then launches or retires VMs to match.

Each invocation runs exactly one reconciliation pass and exits; schedule
it from cron, a systemd timer, or an AWS Lambda trigger.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetscaler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file (overrides FLEETSCALER_CONFIG_FILE)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
