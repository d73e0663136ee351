/*
Package reconciler is the top-level orchestrator (spec.md §4.7): one
stateless pass that fetches executors, queue items, and managed VMs
from the two external collaborators, runs the pure analyzers over that
snapshot, and dispatches the resulting mutations back out.

RunOnce is the only exported entry point a caller needs — a CLI
subcommand or a short-lived function runtime both just call it once per
invocation. It never panics out to its caller: every error, including a
recovered panic, is logged and swallowed, returning success so an
invoker-level retry can't double-fire mutations (spec.md §5).
*/
package reconciler
