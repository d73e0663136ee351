package demand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
)

func testRegistry() *config.Registry {
	return &config.Registry{
		ManagedLabels: map[types.Label]struct{}{
			"linux-amd64": {},
			"windows":     {},
		},
		IgnoredLabels: map[types.Label]struct{}{
			"legacy": {},
		},
		BootstrapLabel: "linux-amd64",
		Labels: map[types.Label]config.LabelConfig{
			"linux-amd64": {ExecutorsPerNode: 2, MinQueueAge: 30 * time.Second},
			"windows":     {ExecutorsPerNode: 1, MinQueueAge: 0},
		},
	}
}

func TestAnalyzeBootstrapSentinel(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	assert.Equal(t, 1, demand["linux-amd64"])
}

func TestAnalyzeRegexExtraction(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "There are no nodes with the label ‘windows’", InQueueSince: now.Add(-time.Minute)},
		{ID: 2, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	assert.Equal(t, 1, demand["windows"])
	assert.Equal(t, 1, demand["linux-amd64"])
}

func TestAnalyzeIgnoresUnknownLabel(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "foo-bar is offline", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	assert.Empty(t, demand)
}

func TestAnalyzeDisplayNameFallback(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0007", Labels: map[types.Label]struct{}{"linux-amd64": {}}},
	}
	queue := []*types.QueueItem{
		{ID: 1, Why: "linux-amd64-0007 is offline", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, executors, nil)
	assert.Equal(t, 1, demand["linux-amd64"])
}

func TestAnalyzeMinQueueAgeFilter(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-5 * time.Second)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	assert.Empty(t, demand)
}

func TestAnalyzeSkipsWhenIdleCapacityExists(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0001", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Idle: true},
	}
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, executors, nil)
	assert.Empty(t, demand)
}

func TestAnalyzeExecutorsPerNodeCeiling(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
		{ID: 2, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
		{ID: 3, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	// 3 required executors / 2 per node = ceil(1.5) = 2
	assert.Equal(t, 2, demand["linux-amd64"])
}

func TestAnalyzeSubtractsPendingVMs(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
		{ID: 2, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
	}
	pending := map[types.Label]int{"linux-amd64": 5}
	demand := Analyze(reg, now, queue, nil, pending)
	assert.Empty(t, demand)
}

func TestAnalyzeDisplayNameFallbackSkipsAmbiguousExecutor(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	executors := []*types.Executor{
		{DisplayName: "ambiguous-0001", Labels: map[types.Label]struct{}{"linux-amd64": {}, "windows": {}}},
	}
	queue := []*types.QueueItem{
		{ID: 1, Why: "ambiguous-0001 is offline", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, executors, nil)
	assert.Empty(t, demand, "an executor with two managed labels is a data anomaly and must not resolve demand")
}

func TestAnalyzeIgnoredExecutorNameDoesNotCountAsIdleCapacity(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	reg.IgnoredExecutorNames = map[string]struct{}{"protected-01": {}}
	executors := []*types.Executor{
		{DisplayName: "protected-01", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Idle: true},
	}
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on linux-amd64", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, executors, nil)
	assert.Equal(t, 1, demand["linux-amd64"], "an ignored executor's idle slot must not be counted as available capacity")
}

func TestAnalyzeDropsIgnoredLabel(t *testing.T) {
	now := time.Now()
	reg := testRegistry()
	reg.ManagedLabels["legacy"] = struct{}{}
	reg.Labels["legacy"] = config.LabelConfig{ExecutorsPerNode: 1}
	queue := []*types.QueueItem{
		{ID: 1, Why: "Waiting for next available executor on legacy", InQueueSince: now.Add(-time.Minute)},
	}
	demand := Analyze(reg, now, queue, nil, nil)
	assert.Empty(t, demand)
}
