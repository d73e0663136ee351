package vmclient

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
)

type fakeEC2 struct {
	describeOut     *ec2.DescribeInstancesOutput
	describeErr     error
	runOut          *ec2.RunInstancesOutput
	runErr          error
	terminateCalled []string
	terminateErr    error
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return f.describeOut, f.describeErr
}

func (f *fakeEC2) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	return f.runOut, f.runErr
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminateCalled = append(f.terminateCalled, in.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, f.terminateErr
}

func TestListManagedVMs(t *testing.T) {
	launch := time.Now().Add(-10 * time.Minute)
	fake := &fakeEC2{
		describeOut: &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{
				{
					Instances: []ec2types.Instance{
						{
							InstanceId: aws.String("i-abc123"),
							LaunchTime: &launch,
							State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
							Tags: []ec2types.Tag{
								{Key: aws.String("Name"), Value: aws.String("linux-amd64-0001")},
								{Key: aws.String("label"), Value: aws.String("linux-amd64")},
							},
						},
					},
				},
			},
		},
	}
	c := NewWithAPI(fake)
	vms, err := c.ListManagedVMs(t.Context())
	require.NoError(t, err)
	require.Len(t, vms, 1)
	assert.Equal(t, "i-abc123", vms[0].ID)
	assert.Equal(t, "linux-amd64-0001", vms[0].Name)
	assert.Equal(t, types.Label("linux-amd64"), vms[0].Label)
	assert.Equal(t, types.VMStateRunning, vms[0].State)
}

func TestLaunchReturnsInstanceID(t *testing.T) {
	fake := &fakeEC2{
		runOut: &ec2.RunInstancesOutput{
			Instances: []ec2types.Instance{{InstanceId: aws.String("i-new001")}},
		},
	}
	c := NewWithAPI(fake)
	lc := config.LabelConfig{
		LaunchTemplate: config.LaunchTemplate{ID: "lt-0123", Version: "$Latest"},
		UserDataFamily: config.FamilyUnix,
	}
	id, err := c.Launch(t.Context(), "linux-amd64-0002", types.Label("linux-amd64"), lc, UserData{
		MasterPublicURL: "https://ci.example.com",
		RetryResetSecs:  1800,
		MaxAgentRetries: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, "i-new001", id)
}

type insufficientCapacityErr struct{}

func (insufficientCapacityErr) Error() string       { return "insufficient capacity" }
func (insufficientCapacityErr) ErrorCode() string    { return "InsufficientInstanceCapacity" }
func (insufficientCapacityErr) ErrorMessage() string { return "insufficient capacity" }
func (insufficientCapacityErr) ErrorFault() smithy.ErrorFault {
	return smithy.FaultServer
}

func TestLaunchInsufficientCapacity(t *testing.T) {
	fake := &fakeEC2{runErr: insufficientCapacityErr{}}
	c := NewWithAPI(fake)
	lc := config.LabelConfig{LaunchTemplate: config.LaunchTemplate{ID: "lt-0123"}}
	_, err := c.Launch(t.Context(), "linux-amd64-0003", types.Label("linux-amd64"), lc, UserData{})
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
}

func TestTerminateByNamesChunks(t *testing.T) {
	names := make([]string, 85)
	ids := make([]ec2types.Instance, 85)
	for i := range names {
		names[i] = "linux-amd64-" + string(rune('a'+i%26))
		ids[i] = ec2types.Instance{InstanceId: aws.String("i-" + names[i])}
	}
	fake := &fakeEC2{
		describeOut: &ec2.DescribeInstancesOutput{
			Reservations: []ec2types.Reservation{{Instances: ids}},
		},
	}
	c := NewWithAPI(fake)
	err := c.TerminateByNames(t.Context(), names)
	require.NoError(t, err)
	// 85 names in chunks of 40 -> three describes (40+40+5), each
	// returning the full fake set;
	// what matters is TerminateInstances was invoked per chunk without error.
	assert.NotEmpty(t, fake.terminateCalled)
}

func TestChunkStrings(t *testing.T) {
	values := []string{"a", "b", "c", "d", "e"}
	chunks := chunkStrings(values, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])
}

func TestRenderUserDataFamilies(t *testing.T) {
	unix := renderUserData(config.FamilyUnix, UserData{NodeName: "n1", MasterPublicURL: "https://ci"})
	assert.Contains(t, unix, "#!/bin/bash")
	assert.Contains(t, unix, "n1")

	win := renderUserData(config.FamilyWindowsHourly, UserData{NodeName: "n2"})
	assert.Contains(t, win, "<powershell>")
	assert.Contains(t, win, "n2")
}
