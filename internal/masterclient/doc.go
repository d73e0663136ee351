/*
Package masterclient is a typed wrapper over the build master's HTTP API
(spec.md §4.2, §6): listing executors and queued items, creating and
deleting node slots, and toggling an executor's offline state.

Wire shapes are grounded on Jenkins's own computer/api/json and
queue/api/json payloads (see the wireComputer/wireMonitorData JSON tags, which
mirror a plain Go Jenkins client's NodesListResponse). Every method has a
per-request timeout and retries transport errors (connection resets,
timeouts) with exponential backoff; 4xx responses are never retried. A
302 is accepted as a valid terminal response without being followed — the
master is known to redirect spuriously on some of these endpoints, and
following costs a second round trip for no benefit.
*/
package masterclient
