//go:build !lambda

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/pkg/health"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the config without reconciling anything",
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")

	reg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	fmt.Printf("config OK: %d managed label(s), upscale cap %d, downscale cap %d\n",
		len(reg.ManagedLabels), reg.PerRoundUpscaleCap, reg.PerRoundDownscaleCap)
	for label := range reg.ManagedLabels {
		lc := reg.Labels[label]
		fmt.Printf("  - %s: executors-per-node=%d warm-pool=%d template=%s\n",
			label, lc.ExecutorsPerNode, lc.WarmPool, lc.LaunchTemplate.ID)
	}

	result := health.NewHTTPChecker(reg.MasterPublicURL).Check(cmd.Context())
	if result.Healthy {
		fmt.Printf("master reachable: %s\n", result.Message)
	} else {
		fmt.Printf("master NOT reachable: %s\n", result.Message)
	}
	return nil
}
