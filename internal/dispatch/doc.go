/*
Package dispatch is the Parallel Dispatcher (spec.md §4.8): a bounded
worker pool used to fan operations for one API family (master,
master-create, provider) out across a configurable parallelism cap.

A pool is created fresh per phase and fully joined before the caller
moves to the next phase; nothing crosses a phase boundary. Dispatch
never retries a failed operation itself — each submitted function is
expected to be independently retry-safe, matching the retry behavior
already built into internal/masterclient and internal/vmclient.
*/
package dispatch
