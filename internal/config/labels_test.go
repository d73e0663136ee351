package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/fleetscaler/internal/types"
)

func testRegistry() *Registry {
	return &Registry{
		ManagedLabels: map[types.Label]struct{}{"linux-amd64": {}, "linux-arm64": {}},
		IgnoredLabels: map[types.Label]struct{}{"keep-me": {}},
	}
}

func labeled(labels ...types.Label) *types.Executor {
	e := &types.Executor{DisplayName: "e", Labels: map[types.Label]struct{}{}}
	for _, l := range labels {
		e.Labels[l] = struct{}{}
	}
	return e
}

func TestResolveManagedLabelSingleMatch(t *testing.T) {
	label, ok := ResolveManagedLabel(testRegistry(), labeled("linux-amd64"))
	assert.True(t, ok)
	assert.Equal(t, types.Label("linux-amd64"), label)
}

func TestResolveManagedLabelNoMatch(t *testing.T) {
	_, ok := ResolveManagedLabel(testRegistry(), labeled("some-other-label"))
	assert.False(t, ok)
}

func TestResolveManagedLabelAmbiguousIsSkipped(t *testing.T) {
	_, ok := ResolveManagedLabel(testRegistry(), labeled("linux-amd64", "linux-arm64"))
	assert.False(t, ok, "an executor carrying more than one managed label is a data anomaly, not a pick-one")
}

func TestResolveManagedLabelIgnoredWinsOverManaged(t *testing.T) {
	_, ok := ResolveManagedLabel(testRegistry(), labeled("linux-amd64", "keep-me"))
	assert.False(t, ok, "an ignored label present on the executor must override a matching managed label")
}

func TestIsIgnoredExecutorName(t *testing.T) {
	reg := &Registry{IgnoredExecutorNames: map[string]struct{}{"master": {}}}
	assert.True(t, reg.IsIgnoredExecutorName("master"))
	assert.False(t, reg.IsIgnoredExecutorName("linux-amd64-0001"))
}
