package fault

import (
	"strings"
	"time"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// Detect runs the four faults of spec.md §4.6 against one pass's
// snapshot. pendingVMs is the reconciler's pending-VM map (step 4.7
// step 2): VMs whose matching executor isn't yet a working slot, or
// has none at all. vms is every managed VM, used for the
// slot-without-VM check. It returns executors to fold into the Supply
// Analyzer's retirement set, plus orphan VM names for direct
// termination.
func Detect(reg *config.Registry, executors []*types.Executor, vms []*types.VM, pendingVMs []*types.VM, now time.Time) (types.RetirementSet, []string) {
	logger := log.WithComponent("fault")

	faulty := make(types.RetirementSet)
	var orphans []string

	byName := make(map[string]*types.Executor, len(executors))
	for _, e := range executors {
		byName[e.DisplayName] = e
	}

	vmNames := make(map[string]struct{}, len(vms))
	for _, vm := range vms {
		vmNames[vm.Name] = struct{}{}
	}

	faulted := make(map[string]struct{})
	addFault := func(kind string, e *types.Executor) {
		if _, done := faulted[e.DisplayName]; done {
			return
		}
		label, ok := config.ResolveManagedLabel(reg, e)
		if !ok {
			logger.Debug().Str("executor", e.DisplayName).Msg("unmanaged executor skipped by fault detector")
			return
		}
		faulted[e.DisplayName] = struct{}{}
		faulty[label] = append(faulty[label], e)
		metrics.FaultsByKind.WithLabelValues(kind).Inc()
	}

	// 1. Pending-too-long.
	for _, vm := range pendingVMs {
		if reg.IsIgnoredExecutorName(vm.Name) {
			continue
		}
		lc, ok := reg.Labels[vm.Label]
		if !ok || lc.MaxStartupAge <= 0 {
			continue
		}
		if vm.Uptime(now) <= lc.MaxStartupAge {
			continue
		}
		if e, found := byName[vm.Name]; found && !e.IsMaster() {
			logger.Warn().Str("vm", vm.Name).Str("label", string(vm.Label)).Msg("VM pending too long, retiring its slot")
			addFault("pending_too_long", e)
			continue
		}
		logger.Warn().Str("vm", vm.Name).Str("label", string(vm.Label)).Msg("VM pending too long with no matching slot, terminating as orphan")
		orphans = append(orphans, vm.Name)
		metrics.FaultsByKind.WithLabelValues("pending_too_long_orphan").Inc()
	}

	for _, e := range executors {
		if e.IsMaster() || reg.IsIgnoredExecutorName(e.DisplayName) {
			continue
		}

		// 2. Monitor-offline. Gated on TemporarilyOffline, not the
		// general Offline flag: a hard-disconnected agent can carry a
		// stale monitor cause from before it dropped off the network,
		// and that's the slot-without-VM/pending-too-long faults' job,
		// not this one's.
		if e.TemporarilyOffline && e.OfflineCauseKind == types.OfflineCauseMonitor {
			logger.Warn().Str("executor", e.DisplayName).Str("cause", e.OfflineCauseText).Msg("executor offline by master monitoring")
			addFault("monitor_offline", e)
			continue
		}

		// 3. Stuck-mark: still carries our own downscale reason next pass.
		if e.Offline && isDownscaleMark(e.OfflineCauseText) {
			logger.Warn().Str("executor", e.DisplayName).Msg("executor still alive with a stale downscale mark")
			addFault("stuck_mark", e)
			continue
		}

		// 4. Slot-without-VM.
		if _, hasVM := vmNames[e.DisplayName]; !hasVM {
			logger.Warn().Str("executor", e.DisplayName).Msg("executor slot has no backing VM")
			addFault("slot_without_vm", e)
		}
	}

	return faulty, orphans
}

// isDownscaleMark reports whether reason is either the canonical
// downscale reason this autoscaler writes, or an operator-applied
// manual downscale marker that the detector treats the same way.
func isDownscaleMark(reason string) bool {
	return reason == types.DownscaleReason || strings.HasPrefix(reason, types.ManualDownscalePrefix)
}
