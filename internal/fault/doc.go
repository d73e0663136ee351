/*
Package fault implements the Fault Detector (spec.md §4.6): four
independent checks over executors and pending VMs that feed into the
Supply Analyzer's retirement set, plus a list of orphan VM names for
direct termination.

Detect is a pure function like internal/demand and internal/supply:
given one pass's snapshot, it returns what's faulty in that snapshot,
nothing more.
*/
package fault
