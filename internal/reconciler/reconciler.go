package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/demand"
	"github.com/cuemby/fleetscaler/internal/fault"
	"github.com/cuemby/fleetscaler/internal/supply"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/internal/vmclient"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// MasterClient is the subset of internal/masterclient.Client the
// reconciler needs; it lets tests substitute a fake.
type MasterClient interface {
	ListExecutors(ctx context.Context) ([]*types.Executor, error)
	ListQueue(ctx context.Context) ([]*types.QueueItem, error)
	CreateSlot(ctx context.Context, name string, label types.Label, slot config.SlotConfig) error
	SetOffline(ctx context.Context, name, reason string) error
	SetOnline(ctx context.Context, name string) error
	Poll(ctx context.Context, name string) (*types.Executor, error)
	DeleteSlot(ctx context.Context, name string) error
}

// VMClient is the subset of internal/vmclient.Client the reconciler
// needs; it lets tests substitute a fake.
type VMClient interface {
	ListManagedVMs(ctx context.Context) ([]*types.VM, error)
	Launch(ctx context.Context, name string, label types.Label, lc config.LabelConfig, data vmclient.UserData) (string, error)
	TerminateByNames(ctx context.Context, names []string) error
}

// Reconciler drives one pass against a build master and a VM provider.
type Reconciler struct {
	master MasterClient
	vm     VMClient
	reg    *config.Registry
	logger zerolog.Logger
}

// New builds a Reconciler over the given collaborators and config.
func New(master MasterClient, vm VMClient, reg *config.Registry) *Reconciler {
	return &Reconciler{
		master: master,
		vm:     vm,
		reg:    reg,
		logger: log.WithComponent("reconciler"),
	}
}

// RunOnce executes exactly one reconciliation pass. It never returns an
// error to the caller: every failure, including a recovered panic, is
// logged here and counted in metrics.ReconciliationFailuresTotal
// instead, so an invoker's own retry-on-error policy can't re-run a
// pass that already partially mutated state (spec.md §5).
func (r *Reconciler) RunOnce(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	defer func() {
		if rec := recover(); rec != nil {
			metrics.ReconciliationFailuresTotal.Inc()
			r.logger.Error().Interface("panic", rec).Msg("reconciliation pass panicked, recovered")
		}
	}()

	if err := r.runOnce(ctx); err != nil {
		metrics.ReconciliationFailuresTotal.Inc()
		r.logger.Error().Err(err).Msg("reconciliation pass failed")
	}
}

func (r *Reconciler) runOnce(ctx context.Context) error {
	now := time.Now()

	executors, err := r.master.ListExecutors(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing executors: %w", err)
	}
	queue, err := r.master.ListQueue(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing queue: %w", err)
	}
	vms, err := r.vm.ListManagedVMs(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: listing VMs: %w", err)
	}

	pendingVMs, pendingByLabel := computePendingVMs(executors, vms)
	uptimeByName := uptimeByExecutorName(r.reg, executors, vms, now)

	d := demand.Analyze(r.reg, now, queue, executors, pendingByLabel)
	retire := supply.Analyze(r.reg, executors, uptimeByName)
	faulty, orphans := fault.Detect(r.reg, executors, vms, pendingVMs, now)

	d = applyUpscaleCap(d, r.reg.PerRoundUpscaleCap)

	retire.Merge(faulty)
	for label, execs := range retire {
		metrics.RetiredExecutorsByLabel.WithLabelValues(string(label)).Set(float64(len(execs)))
	}
	retire = applyDownscaleCap(retire, r.reg.PerRoundDownscaleCap)

	r.scaleDown(ctx, retire)

	if len(orphans) > 0 {
		if err := r.vm.TerminateByNames(ctx, orphans); err != nil {
			r.logger.Error().Err(err).Strs("vms", orphans).Msg("failed to terminate orphan VMs")
		}
	}

	r.scaleUp(ctx, d)

	return nil
}

// computePendingVMs implements spec.md §4.7 step 2: VMs whose matching
// executor is offline-and-not-temporarily-offline, or has no matching
// executor at all (an orphan), grouped by label for the Demand
// Analyzer's subtraction and listed individually for the Fault
// Detector's pending-too-long check.
func computePendingVMs(executors []*types.Executor, vms []*types.VM) ([]*types.VM, map[types.Label]int) {
	byName := make(map[string]*types.Executor, len(executors))
	for _, e := range executors {
		byName[e.DisplayName] = e
	}

	var pending []*types.VM
	byLabel := make(map[types.Label]int)
	for _, vm := range vms {
		e, found := byName[vm.Name]
		if found && !(e.Offline && !e.TemporarilyOffline) {
			continue
		}
		pending = append(pending, vm)
		byLabel[vm.Label]++
	}
	return pending, byLabel
}

// uptimeByExecutorName maps an executor's display name to its backing
// VM's uptime, used by the Supply Analyzer's windows-hourly check.
// Ignored executor names (spec.md §4.1) are left out since they are
// never retirement candidates in the first place.
func uptimeByExecutorName(reg *config.Registry, executors []*types.Executor, vms []*types.VM, now time.Time) map[string]time.Duration {
	byName := make(map[string]*types.VM, len(vms))
	for _, vm := range vms {
		byName[vm.Name] = vm
	}
	out := make(map[string]time.Duration, len(executors))
	for _, e := range executors {
		if reg.IsIgnoredExecutorName(e.DisplayName) {
			continue
		}
		if vm, ok := byName[e.DisplayName]; ok {
			out[e.DisplayName] = vm.Uptime(now)
		}
	}
	return out
}
