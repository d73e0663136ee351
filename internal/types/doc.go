/*
Package types defines the data model shared by every component of the
fleet autoscaler: executors and queue items as seen by the build master,
VMs as seen by the cloud provider, and the demand/retirement sets the
analyzers produce between them.

These types carry only the fields the reconciler actually reads. They are
deliberately flatter than the master's and the provider's own wire
schemas — internal/masterclient and internal/vmclient are responsible for
translating the external JSON/SDK shapes into these structs.
*/
package types
