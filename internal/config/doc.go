/*
Package config implements the fleet autoscaler's Config Registry: a
process-wide, init-once, read-only source of per-label and global
tuning knobs.

Values are read once in Load and never mutated afterward, so the
resulting *Registry can be shared across goroutines without locking —
the same pattern the teacher uses for its immutable types.Cluster
snapshot, just sourced from the environment instead of Raft.

# Sources

Load reads two sources, in this precedence order (first wins):

 1. Environment variables, one per key (the FLEETSCALER_* names in
    config.go). Structured values (label sets, per-label maps) are
    JSON-encoded.
 2. An optional YAML file (FLEETSCALER_CONFIG_FILE or --config), run
    through envsubst so a single template can be shared across
    environments that differ only in a handful of variables.

A managed label missing any of its required per-label entries fails
Load outright — this is a startup-time configuration error, not a
per-pass one (spec.md §4.1).
*/
package config
