/*
Package health provides a single preflight HTTP check used before a
reconciliation pass touches the master or the cloud provider.

fleetscaler runs as a short-lived, one-shot process, so a bad master URL
or an unreachable Jenkins instance is reported with a clear message up
front rather than only as an error three calls deep into
internal/reconciler. validateConfig and run both use an HTTPChecker
against the configured master public URL for this. A failed check does
not stop either command: run logs a warning and proceeds with the pass,
and validateConfig prints the result and still exits successfully.
*/
package health
