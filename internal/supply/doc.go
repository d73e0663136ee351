/*
Package supply implements the Supply Analyzer (spec.md §4.5): a pure
function from executors, their backing VMs' uptime, and per-label
warm-pool floors to a label -> executors-to-retire set.

Eligibility and warm-pool enforcement are computed independently per
label; selection of which eligible executors to actually retire is
uniformly random rather than FIFO, so the same slot isn't always the
one torn down.
*/
package supply
