package reconciler

import (
	"context"
	"errors"

	"github.com/cuemby/fleetscaler/internal/dispatch"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// errRaceRecovered is a sentinel returned internally when an executor
// flipped back online or busy between being marked offline and the
// follow-up poll; it is not logged as a failure.
var errRaceRecovered = errors.New("reconciler: executor recovered from race condition")

// scaleDown implements spec.md §4.7.1: mark online retirees offline,
// re-poll to catch a race against a scheduled build, terminate the
// survivors' VMs, then delete their master slots.
func (r *Reconciler) scaleDown(ctx context.Context, retire types.RetirementSet) {
	executors := flatten(retire)
	if len(executors) == 0 {
		return
	}

	var alreadyOffline, online []*types.Executor
	for _, e := range executors {
		if e.Offline {
			alreadyOffline = append(alreadyOffline, e)
		} else {
			online = append(online, e)
		}
	}

	results := dispatch.Run(ctx, r.reg.MasterParallelism, online, func(ctx context.Context, e *types.Executor) error {
		if err := r.master.SetOffline(ctx, e.DisplayName, types.DownscaleReason); err != nil {
			return err
		}
		polled, err := r.master.Poll(ctx, e.DisplayName)
		if err != nil {
			return err
		}
		if !polled.Offline || !polled.Idle {
			metrics.RaceRecoveriesTotal.Inc()
			if err := r.master.SetOnline(ctx, e.DisplayName); err != nil {
				r.logger.Error().Err(err).Str("executor", e.DisplayName).Msg("failed to bring executor back online after a race-condition recovery")
			}
			return errRaceRecovered
		}
		return nil
	})

	var survivors []*types.Executor
	for _, res := range results {
		if res.Err == nil {
			survivors = append(survivors, res.Item)
			continue
		}
		if !errors.Is(res.Err, errRaceRecovered) {
			r.logger.Error().Err(res.Err).Str("executor", res.Item.DisplayName).Msg("failed to mark executor offline for downscale")
		}
	}

	final := append(alreadyOffline, survivors...)
	if len(final) == 0 {
		return
	}

	names := make([]string, len(final))
	for i, e := range final {
		names[i] = e.DisplayName
	}
	if err := r.vm.TerminateByNames(ctx, names); err != nil {
		r.logger.Error().Err(err).Strs("executors", names).Msg("failed to terminate VMs for retired executors")
	}

	dispatch.Run(ctx, r.reg.MasterParallelism, final, func(ctx context.Context, e *types.Executor) error {
		polled, err := r.master.Poll(ctx, e.DisplayName)
		if err != nil {
			r.logger.Error().Err(err).Str("executor", e.DisplayName).Msg("failed to re-poll executor before slot deletion")
			return err
		}
		if !polled.Offline {
			r.logger.Error().Str("executor", e.DisplayName).Msg("refusing to delete slot for an executor that came back online")
			return nil
		}
		return r.master.DeleteSlot(ctx, e.DisplayName)
	})
}

func flatten(retire types.RetirementSet) []*types.Executor {
	var out []*types.Executor
	for _, execs := range retire {
		out = append(out, execs...)
	}
	return out
}
