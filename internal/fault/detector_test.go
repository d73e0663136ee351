package fault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
)

func baseRegistry() *config.Registry {
	return &config.Registry{
		ManagedLabels: map[types.Label]struct{}{"linux-amd64": {}},
		Labels: map[types.Label]config.LabelConfig{
			"linux-amd64": {MaxStartupAge: 10 * time.Minute},
		},
	}
}

func TestDetectPendingTooLongWithSlot(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0001", Labels: map[types.Label]struct{}{"linux-amd64": {}}},
	}
	pending := []*types.VM{
		{Name: "linux-amd64-0001", Label: "linux-amd64", LaunchTime: now.Add(-20 * time.Minute)},
	}
	faulty, orphans := Detect(reg, executors, nil, pending, now)
	require.Contains(t, faulty, types.Label("linux-amd64"))
	assert.Len(t, faulty["linux-amd64"], 1)
	assert.Empty(t, orphans)
}

func TestDetectPendingTooLongOrphan(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	pending := []*types.VM{
		{Name: "linux-amd64-ghost", Label: "linux-amd64", LaunchTime: now.Add(-20 * time.Minute)},
	}
	faulty, orphans := Detect(reg, nil, nil, pending, now)
	assert.Empty(t, faulty)
	require.Len(t, orphans, 1)
	assert.Equal(t, "linux-amd64-ghost", orphans[0])
}

func TestDetectMonitorOffline(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{
			DisplayName:        "linux-amd64-0002",
			Labels:             map[types.Label]struct{}{"linux-amd64": {}},
			Offline:            true,
			TemporarilyOffline: true,
			OfflineCauseKind:   types.OfflineCauseMonitor,
			OfflineCauseText:   "disk space",
		},
	}
	faulty, _ := Detect(reg, executors, nil, nil, now)
	require.Len(t, faulty["linux-amd64"], 1)
}

func TestDetectHardOfflineWithMonitorCauseIsNotDoubleHandled(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{
			DisplayName:        "linux-amd64-0002",
			Labels:             map[types.Label]struct{}{"linux-amd64": {}},
			Offline:            true,
			TemporarilyOffline: false, // hard-disconnected, not monitor-toggled
			OfflineCauseKind:   types.OfflineCauseMonitor,
			OfflineCauseText:   "disk space",
		},
	}
	vms := []*types.VM{{Name: "linux-amd64-0002", Label: "linux-amd64"}}
	faulty, orphans := Detect(reg, executors, vms, nil, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}

func TestDetectStuckMarkCanonicalAndManual(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0003", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Offline: true, OfflineCauseText: types.DownscaleReason},
		{DisplayName: "linux-amd64-0004", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Offline: true, OfflineCauseText: "[DOWNSCALE] by operator"},
	}
	faulty, _ := Detect(reg, executors, nil, nil, now)
	assert.Len(t, faulty["linux-amd64"], 2)
}

func TestDetectSlotWithoutVM(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0005", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Idle: true},
	}
	faulty, _ := Detect(reg, executors, nil, nil, now)
	require.Len(t, faulty["linux-amd64"], 1)
	assert.Equal(t, "linux-amd64-0005", faulty["linux-amd64"][0].DisplayName)
}

func TestDetectSlotWithVMIsNotFaulty(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{DisplayName: "linux-amd64-0006", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Idle: true},
	}
	vms := []*types.VM{{Name: "linux-amd64-0006", Label: "linux-amd64"}}
	faulty, orphans := Detect(reg, executors, vms, nil, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}

func TestDetectMasterIsExcluded(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{{DisplayName: "master"}}
	faulty, orphans := Detect(reg, executors, nil, nil, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}

func TestDetectUnmanagedExecutorSkipped(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	executors := []*types.Executor{
		{DisplayName: "odd-box-01", Labels: map[types.Label]struct{}{"other": {}}},
	}
	faulty, orphans := Detect(reg, executors, nil, nil, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}

func TestDetectSkipsExecutorWithTwoManagedLabels(t *testing.T) {
	now := time.Now()
	reg := &config.Registry{
		ManagedLabels: map[types.Label]struct{}{"linux-amd64": {}, "linux-arm64": {}},
		Labels: map[types.Label]config.LabelConfig{
			"linux-amd64": {MaxStartupAge: 10 * time.Minute},
			"linux-arm64": {MaxStartupAge: 10 * time.Minute},
		},
	}
	executors := []*types.Executor{
		{DisplayName: "ambiguous-01", Labels: map[types.Label]struct{}{"linux-amd64": {}, "linux-arm64": {}}, Idle: true},
	}
	faulty, orphans := Detect(reg, executors, nil, nil, now)
	assert.Empty(t, faulty, "executor with two managed labels is a data anomaly and must be left alone")
	assert.Empty(t, orphans)
}

func TestDetectIgnoredLabelWinsOverManagedLabel(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	reg.IgnoredLabels = map[types.Label]struct{}{"keep-me": {}}
	executors := []*types.Executor{
		{DisplayName: "both-01", Labels: map[types.Label]struct{}{"linux-amd64": {}, "keep-me": {}}, Idle: true},
	}
	faulty, orphans := Detect(reg, executors, nil, nil, now)
	assert.Empty(t, faulty, "an ignored label present on the executor must override the managed match")
	assert.Empty(t, orphans)
}

func TestDetectIgnoredExecutorNameIsNeverFaulted(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	reg.IgnoredExecutorNames = map[string]struct{}{"protected-01": {}}
	executors := []*types.Executor{
		{DisplayName: "protected-01", Labels: map[types.Label]struct{}{"linux-amd64": {}}, Offline: true, OfflineCauseText: types.DownscaleReason},
	}
	faulty, orphans := Detect(reg, executors, nil, nil, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}

func TestDetectIgnoredExecutorNameOrphanIsNeverTerminated(t *testing.T) {
	now := time.Now()
	reg := baseRegistry()
	reg.IgnoredExecutorNames = map[string]struct{}{"protected-ghost": {}}
	pending := []*types.VM{
		{Name: "protected-ghost", Label: "linux-amd64", LaunchTime: now.Add(-20 * time.Minute)},
	}
	faulty, orphans := Detect(reg, nil, nil, pending, now)
	assert.Empty(t, faulty)
	assert.Empty(t, orphans)
}
