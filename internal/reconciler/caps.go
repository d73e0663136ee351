package reconciler

import (
	"math"
	"math/rand"
	"sort"

	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// applyUpscaleCap proportionally reduces demand to fit cap when it's
// exceeded, processing labels in ascending count order so rounding
// losses land on the largest label (spec.md §4.7 step 6). Demand at or
// under cap (or a non-positive cap) is returned unchanged; whenever
// demand exceeds cap, sum(result) == cap.
func applyUpscaleCap(demand types.LabelDemand, cap int) types.LabelDemand {
	if cap <= 0 {
		return demand
	}

	total := 0
	for _, n := range demand {
		total += n
	}
	if total <= cap {
		return demand
	}
	metrics.UpscaleCapHitTotal.Inc()

	type entry struct {
		label types.Label
		count int
	}
	entries := make([]entry, 0, len(demand))
	for l, n := range demand {
		entries = append(entries, entry{label: l, count: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count < entries[j].count })

	result := make(types.LabelDemand, len(entries))
	allocated := 0
	for i, e := range entries {
		scaled := int(math.Floor(float64(e.count) * float64(cap) / float64(total)))
		entries[i].count = scaled
		result[e.label] = scaled
		allocated += scaled
	}

	remainder := cap - allocated
	for i := 0; remainder > 0 && i < len(entries); i++ {
		result[entries[i].label]++
		remainder--
	}

	for l, n := range result {
		if n <= 0 {
			delete(result, l)
		}
	}
	return result
}

// applyDownscaleCap randomly shuffles labels, then walks labels and
// their executors in that order, dropping anything beyond cap
// (spec.md §4.7 step 7).
func applyDownscaleCap(retire types.RetirementSet, cap int) types.RetirementSet {
	if cap <= 0 {
		return retire
	}
	if retire.Count() <= cap {
		return retire
	}
	metrics.DownscaleCapHitTotal.Inc()

	labels := make([]types.Label, 0, len(retire))
	for l := range retire {
		labels = append(labels, l)
	}
	rand.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	result := make(types.RetirementSet)
	count := 0
	for _, label := range labels {
		for _, e := range retire[label] {
			if count >= cap {
				break
			}
			result[label] = append(result[label], e)
			count++
		}
		if count >= cap {
			break
		}
	}
	return result
}
