package supply

import (
	"math/rand"
	"time"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
)

// Analyze computes the label -> executors to retire for one pass
// (spec.md §4.5). uptimeByName carries the backing VM's uptime for
// every executor that has one; an executor absent from the map is
// never hourly-excluded since there's nothing to preserve billing for.
func Analyze(reg *config.Registry, executors []*types.Executor, uptimeByName map[string]time.Duration) types.RetirementSet {
	type candidate struct {
		executor         *types.Executor
		label            types.Label
		hourlyExcluded   bool
	}

	byLabel := make(map[types.Label][]candidate)

	for _, e := range executors {
		if e.IsMaster() || reg.IsIgnoredExecutorName(e.DisplayName) || e.Offline || !e.Idle || !e.ArchitectureReported {
			continue
		}
		label, ok := config.ResolveManagedLabel(reg, e)
		if !ok {
			continue
		}
		lc := reg.Labels[label]

		hourlyExcluded := false
		if lc.IsWindowsHourly() {
			uptime, ok := uptimeByName[e.DisplayName]
			if ok && !types.PastWindowsBillingBoundary(uptime, reg.WindowsMinPartialUptime) {
				hourlyExcluded = true
			}
		}

		byLabel[label] = append(byLabel[label], candidate{executor: e, label: label, hourlyExcluded: hourlyExcluded})
	}

	retire := make(types.RetirementSet)

	for label, candidates := range byLabel {
		idleConsidered := candidates // every retirement-eligible executor, including hourly-excluded ones

		var eligible []*types.Executor
		for _, c := range candidates {
			if !c.hourlyExcluded {
				eligible = append(eligible, c.executor)
			}
		}
		if len(eligible) == 0 {
			continue
		}

		// Selection is uniformly random, never FIFO, so the same slot
		// isn't always the one torn down.
		rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

		warmPool := reg.Labels[label].WarmPool
		toDisable := len(eligible)
		reduceBy := warmPool - (len(idleConsidered) - toDisable)
		if reduceBy > 0 {
			toDisable -= reduceBy
		}
		if toDisable <= 0 {
			continue
		}

		retire[label] = eligible[:toDisable]
	}

	return retire
}
