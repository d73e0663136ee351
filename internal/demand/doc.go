/*
Package demand implements the Demand Analyzer (spec.md §4.4): a pure
function from queue items, executors, and pending-VM counts to a
per-label count of nodes to launch this pass.

Queue-reason parsing walks a fixed, ordered regex list grounded on the
autoscaling handler's own matchers; the first pattern to capture a label
token wins. Nothing in this package performs I/O or holds state across
calls — every Analyze call is independent, matching the reconciler's
stateless, single-shot design.
*/
package demand
