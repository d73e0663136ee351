/*
Package vmclient is a typed wrapper over the cloud VM provider (spec.md
§4.3): listing VMs tagged as managed by this autoscaler, launching new
VMs from a label's launch template, and terminating VMs by name.

It is grounded on the EC2 RunInstances/DescribeInstances/TerminateInstances
calls in a bastion-provisioning tool in the retrieval pack, adapted from
the classic aws-sdk-go style shown there to aws-sdk-go-v2's context-first,
functional-options client. Every managed VM carries an AutoScaledSlave=true
tag so list_managed_vms never picks up instances this autoscaler didn't
create.
*/
package vmclient
