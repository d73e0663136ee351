/*
Package metrics defines and registers the fleet autoscaler's Prometheus
metrics: per-pass reconciliation duration and cycle counts, demand and
retirement gauges by label, fault counts by kind, scale-cap hits, and
external call latency/outcome for both the master client and the VM
client.

Handler exposes the registry over HTTP for scrape-based deployments;
Timer is a small helper for observing a histogram around a block of
code, used the same way by every component.
*/
package metrics
