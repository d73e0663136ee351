package types

import "time"

// Label identifies the unit of scheduling. A label is either managed
// (eligible for scale up/down) or ignored (tolerated on existing
// executors but never autoscaled).
type Label string

// OfflineCauseKind classifies why an executor was taken offline.
type OfflineCauseKind string

const (
	// OfflineCauseMonitor means the master's own node monitoring took
	// the executor offline (low disk space, clock skew, etc).
	OfflineCauseMonitor OfflineCauseKind = "hudson.node_monitors"
	// OfflineCauseUser means a human or this autoscaler requested it.
	OfflineCauseUser OfflineCauseKind = "user"
	// OfflineCauseNone means the executor is online.
	OfflineCauseNone OfflineCauseKind = ""
)

// DownscaleReason is the offline reason this autoscaler writes when it
// marks an executor offline ahead of decommission.
const DownscaleReason = "[AUTOSCALING] Downscale"

// ManualDownscalePrefix is an operator-written reason that the fault
// detector treats the same as DownscaleReason for the stuck-mark check.
const ManualDownscalePrefix = "[DOWNSCALE]"

// Executor is a named work slot on the build master.
type Executor struct {
	// DisplayName uniquely identifies the executor on the master and,
	// by convention, the VM whose Name tag backs it.
	DisplayName string

	// Labels is the set of labels assigned to this executor. Exactly one
	// of these should resolve to a managed label; more than one is a
	// data anomaly (spec.md §3).
	Labels map[Label]struct{}

	Offline            bool
	TemporarilyOffline bool
	Idle               bool

	OfflineCauseKind OfflineCauseKind
	OfflineCauseText string

	// ArchitectureReported is true once the executor's monitor data
	// includes an architecture string, meaning the agent has fully
	// connected. Absence means the executor slot exists but nothing has
	// booted into it yet (or it is still downloading the agent).
	ArchitectureReported bool

	NumSlots int

	// RestrictionRegex, if non-empty, is the job-name restriction policy
	// attached to this slot at creation time.
	RestrictionRegex string
	TunnelAddress    string
}

// IsMaster reports whether this executor is the master's built-in node
// (display name "master", or empty), which is never a scaling candidate.
func (e *Executor) IsMaster() bool {
	return e.DisplayName == "" || e.DisplayName == "master"
}

// HasLabel reports whether the executor carries the given label.
func (e *Executor) HasLabel(l Label) bool {
	_, ok := e.Labels[l]
	return ok
}

// ManagedLabels returns the subset of e.Labels present in managed,
// preserving no particular order (callers needing determinism should
// sort the result).
func (e *Executor) ManagedLabels(managed map[Label]struct{}) []Label {
	var out []Label
	for l := range e.Labels {
		if _, ok := managed[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

// VMState is the lifecycle state of a cloud VM as reported by the
// provider. Only Pending and Running are ever returned by
// internal/vmclient's list call; the other values exist so callers can
// reason about the full state machine in tests.
type VMState string

const (
	VMStatePending VMState = "pending"
	VMStateRunning VMState = "running"
	VMStateOther   VMState = "other"
)

// VM is a cloud virtual machine tagged as belonging to this autoscaler.
type VM struct {
	ID   string
	Name string // Name tag; intended to equal an Executor.DisplayName
	Label Label
	State VMState
	LaunchTime time.Time
}

// Uptime returns now - LaunchTime, clamped at zero.
func (v *VM) Uptime(now time.Time) time.Duration {
	d := now.Sub(v.LaunchTime)
	if d < 0 {
		return 0
	}
	return d
}

// PastWindowsBillingBoundary reports whether a windows-hourly VM with
// the given uptime has crossed its partial-uptime floor within the
// current hour, making it an eligible terminate candidate without
// wasting a partial hour already paid for (spec.md §4.3).
func PastWindowsBillingBoundary(uptime, minPartialUptime time.Duration) bool {
	return uptime%time.Hour >= minPartialUptime
}

// QueueItem is a blocked build queue entry on the master.
type QueueItem struct {
	ID           int64
	Why          string
	InQueueSince time.Time
}

// Age returns how long the item has been queued as of now.
func (q *QueueItem) Age(now time.Time) time.Duration {
	return now.Sub(q.InQueueSince)
}

// LabelDemand maps a managed label to the number of new nodes required
// after subtracting currently-pending VMs. Values are always positive;
// zero-demand labels are omitted by the Demand Analyzer.
type LabelDemand map[Label]int

// RetirementSet maps a managed label to the executors selected for
// decommission this pass.
type RetirementSet map[Label][]*Executor

// Merge appends src's entries onto r in place.
func (r RetirementSet) Merge(src RetirementSet) {
	for label, executors := range src {
		r[label] = append(r[label], executors...)
	}
}

// Count returns the total number of executors across all labels.
func (r RetirementSet) Count() int {
	n := 0
	for _, executors := range r {
		n += len(executors)
	}
	return n
}
