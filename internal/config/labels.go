package config

import "github.com/cuemby/fleetscaler/internal/types"

// ResolveManagedLabel implements spec.md §3's `_managed_node_label`
// equivalent: an executor carrying an ignored label is left alone even
// if it also carries a managed one (the ignored match wins), and an
// executor carrying more than one managed label is a data anomaly that
// is flagged and skipped rather than resolved to an arbitrary one of
// them. Every supply/fault/demand call site that needs "the one
// managed label this executor belongs to" must go through this
// function instead of indexing e.ManagedLabels(reg.ManagedLabels)
// directly.
func ResolveManagedLabel(reg *Registry, e *types.Executor) (types.Label, bool) {
	if ignored := e.ManagedLabels(reg.IgnoredLabels); len(ignored) > 0 {
		return "", false
	}
	managed := e.ManagedLabels(reg.ManagedLabels)
	if len(managed) != 1 {
		return "", false
	}
	return managed[0], true
}

// IsIgnoredExecutorName reports whether name is in the registry's
// never-touch set (spec.md §4.1), e.g. the master's own node.
func (r *Registry) IsIgnoredExecutorName(name string) bool {
	_, ok := r.IgnoredExecutorNames[name]
	return ok
}
