//go:build !lambda

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/masterclient"
	"github.com/cuemby/fleetscaler/internal/reconciler"
	"github.com/cuemby/fleetscaler/internal/vmclient"
	"github.com/cuemby/fleetscaler/pkg/health"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run exactly one reconciliation pass and exit",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().String("metrics-addr", "", "If set, serve Prometheus metrics on this address before running (e.g. 127.0.0.1:9090)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	reg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()

	if result := health.NewHTTPChecker(reg.MasterPublicURL).Check(ctx); !result.Healthy {
		log.Logger.Warn().Str("master_url", reg.MasterPublicURL).Str("detail", result.Message).
			Msg("master preflight check failed, proceeding anyway")
	}

	master := masterclient.New(reg.MasterPublicURL, reg.MasterRequestTimeout)
	vm, err := vmclient.New(ctx)
	if err != nil {
		return fmt.Errorf("building VM client: %w", err)
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}

	recon := reconciler.New(master, vm, reg)
	recon.RunOnce(ctx)
	return nil
}
