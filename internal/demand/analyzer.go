package demand

import (
	"math"
	"time"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// Analyze computes the label -> positive new-node count for one pass
// (spec.md §4.4). It is a pure function of its inputs: no I/O, no
// shared state between calls.
func Analyze(reg *config.Registry, now time.Time, queue []*types.QueueItem, executors []*types.Executor, pendingByLabel map[types.Label]int) types.LabelDemand {
	logger := log.WithComponent("demand")

	byName := make(map[string]*types.Executor, len(executors))
	idleByLabel := make(map[types.Label]int)
	for _, e := range executors {
		byName[e.DisplayName] = e
		if e.IsMaster() || reg.IsIgnoredExecutorName(e.DisplayName) || e.Offline || !e.Idle {
			continue
		}
		if label, ok := config.ResolveManagedLabel(reg, e); ok {
			idleByLabel[label]++
		}
	}

	requiredExecutors := make(map[types.Label]int)

	for _, item := range queue {
		label, ok := resolveLabel(reg, item.Why, byName)
		if !ok {
			continue // not resource starvation
		}

		if item.Age(now) < reg.Labels[label].MinQueueAge {
			continue
		}

		if idleByLabel[label] > 0 {
			logger.Error().
				Str("label", string(label)).
				Int64("queue_item", item.ID).
				Str("why", item.Why).
				Msg("queue item blocked despite idle executors for its label; likely a restricted-job mis-schedule")
			metrics.QueueItemsIgnoredTotal.WithLabelValues("idle_capacity_available").Inc()
			continue
		}

		requiredExecutors[label]++
	}

	demand := make(types.LabelDemand)
	for label, required := range requiredExecutors {
		if _, ignored := reg.IgnoredLabels[label]; ignored {
			continue
		}
		lc, known := reg.Labels[label]
		if !known || lc.ExecutorsPerNode <= 0 {
			logger.Error().Str("label", string(label)).Msg("demand for label with no positive executors-per-node configuration")
			continue
		}

		nodes := int(math.Ceil(float64(required) / float64(lc.ExecutorsPerNode)))
		nodes -= pendingByLabel[label]
		if nodes <= 0 {
			continue
		}
		demand[label] = nodes
		metrics.DemandNodesByLabel.WithLabelValues(string(label)).Set(float64(nodes))
	}

	return demand
}

// resolveLabel implements spec.md §4.4 step 2's label resolution chain:
// the bootstrap sentinel, the ordered regex list, and the display-name
// fallback for tokens that aren't themselves a known managed label.
func resolveLabel(reg *config.Registry, why string, byName map[string]*types.Executor) (types.Label, bool) {
	if isBootstrapSentinel(why) {
		if reg.BootstrapLabel == "" {
			return "", false
		}
		return reg.BootstrapLabel, true
	}

	token, ok := extractLabel(why)
	if !ok {
		return "", false
	}

	label := types.Label(token)
	if _, known := reg.ManagedLabels[label]; known {
		return label, true
	}

	if exec, found := byName[token]; found {
		if label, ok := config.ResolveManagedLabel(reg, exec); ok {
			return label, true
		}
	}

	return "", false
}
