package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuemby/fleetscaler/internal/dispatch"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/internal/vmclient"
)

// scaleUp implements spec.md §4.7.2: generate unique slot names per
// label, create the slots, launch their VMs, and roll back any slot
// whose launch failed.
func (r *Reconciler) scaleUp(ctx context.Context, demand types.LabelDemand) {
	type job struct {
		name  string
		label types.Label
	}

	var jobs []job
	for label, count := range demand {
		for _, name := range generateNames(label, count) {
			jobs = append(jobs, job{name: name, label: label})
		}
	}
	if len(jobs) == 0 {
		return
	}

	createResults := dispatch.Run(ctx, r.reg.MasterCreateParallelism, jobs, func(ctx context.Context, j job) error {
		lc := r.reg.Labels[j.label]
		return r.master.CreateSlot(ctx, j.name, j.label, lc.Slot)
	})

	var created []job
	for _, res := range createResults {
		if res.Err != nil {
			r.logger.Error().Err(res.Err).Str("name", res.Item.name).Str("label", string(res.Item.label)).Msg("failed to create master slot")
			continue
		}
		created = append(created, res.Item)
	}
	if len(created) == 0 {
		return
	}

	launchResults := dispatch.Run(ctx, r.reg.ProviderParallelism, created, func(ctx context.Context, j job) error {
		lc := r.reg.Labels[j.label]
		_, err := r.vm.Launch(ctx, j.name, j.label, lc, vmclient.UserData{
			MasterPublicURL: r.reg.MasterPublicURL,
			MasterTunnelURL: r.reg.MasterTunnelURL,
			TunnelAddress:   lc.Slot.TunnelAddress,
			RetryResetSecs:  r.reg.RetryCountResetSeconds,
			MaxAgentRetries: r.reg.MaxAgentRetries,
		})
		return err
	})

	for _, res := range launchResults {
		if res.Err == nil {
			continue
		}
		r.logger.Error().Err(res.Err).Str("name", res.Item.name).Str("label", string(res.Item.label)).Msg("failed to launch VM, rolling back its slot")
		if err := r.master.DeleteSlot(ctx, res.Item.name); err != nil {
			r.logger.Error().Err(err).Str("name", res.Item.name).Msg("failed to roll back slot after launch failure")
		}
	}
}

// generateNames produces count unique names of the form
// <label>_<random-lowercase-digit-10>.
func generateNames(label types.Label, count int) []string {
	names := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(names) < count {
		suffix := randomSuffix()
		name := fmt.Sprintf("%s_%s", label, suffix)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// randomSuffix returns 10 lowercase hex characters, which already
// satisfies the lowercase-and-digit alphabet the naming scheme calls
// for without a bespoke random-string generator.
func randomSuffix() string {
	id := uuid.New().String()
	suffix := ""
	for _, r := range id {
		if r == '-' {
			continue
		}
		suffix += string(r)
		if len(suffix) == 10 {
			break
		}
	}
	return suffix
}
