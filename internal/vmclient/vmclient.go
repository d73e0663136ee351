package vmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/types"
	"github.com/cuemby/fleetscaler/pkg/log"
	"github.com/cuemby/fleetscaler/pkg/metrics"
)

// managedTag is set on every VM this autoscaler launches and is the
// sole discriminator list_managed_vms filters on (spec.md §4.3).
const managedTag = "AutoScaledSlave"

// terminateChunkSize bounds how many Name-tag values go into a single
// DescribeInstances filter (and so into the TerminateInstances call that
// follows it), matching handler.py's EC2 filter limit.
const terminateChunkSize = 40

type api interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Client is a typed wrapper over the EC2 API surface the autoscaler needs.
type Client struct {
	ec2    api
	logger zerolog.Logger
}

// New builds a Client from the default AWS credential chain and region
// resolution (environment, shared config, IMDS).
func New(ctx context.Context) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("vmclient: loading AWS config: %w", err)
	}
	return &Client{
		ec2:    ec2.NewFromConfig(cfg),
		logger: log.WithComponent("vmclient"),
	}, nil
}

// NewWithAPI builds a Client around an already-constructed EC2 API
// implementation, used by tests to inject a fake.
func NewWithAPI(e api) *Client {
	return &Client{ec2: e, logger: log.WithComponent("vmclient")}
}

// ErrInsufficientCapacity is returned by Launch when the provider
// rejects the request for lack of capacity; the reconciler treats this
// as non-fatal (spec.md §4.3) and tries the next label.
var ErrInsufficientCapacity = errors.New("vmclient: insufficient instance capacity")

// ListManagedVMs returns every VM this autoscaler is tracking, filtered
// to the pending and running states.
func (c *Client) ListManagedVMs(ctx context.Context) ([]*types.VM, error) {
	timer := metrics.NewTimer()
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + managedTag), Values: []string{"true"}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	metrics.VMRequestDuration.WithLabelValues("list").Observe(timer.Duration().Seconds())
	if err != nil {
		metrics.VMRequestsTotal.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("vmclient: describing instances: %w", err)
	}
	metrics.VMRequestsTotal.WithLabelValues("list", "ok").Inc()

	var vms []*types.VM
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			vm := &types.VM{ID: aws.ToString(inst.InstanceId)}
			if inst.LaunchTime != nil {
				vm.LaunchTime = *inst.LaunchTime
			}
			switch inst.State.Name {
			case ec2types.InstanceStateNamePending:
				vm.State = types.VMStatePending
			case ec2types.InstanceStateNameRunning:
				vm.State = types.VMStateRunning
			default:
				vm.State = types.VMStateOther
			}
			for _, tag := range inst.Tags {
				switch aws.ToString(tag.Key) {
				case "Name":
					vm.Name = aws.ToString(tag.Value)
				case "label":
					vm.Label = types.Label(aws.ToString(tag.Value))
				}
			}
			vms = append(vms, vm)
		}
	}
	return vms, nil
}

// UserData carries the values rendered into a launched VM's startup
// script: where to phone home and how many times to retry before
// giving up (handler.py's retry-count-reset/max-agent-retries pair).
type UserData struct {
	MasterPublicURL string
	MasterTunnelURL string
	NodeName        string
	TunnelAddress   string
	RetryResetSecs  int
	MaxAgentRetries int
}

// renderUserData produces the cloud-init/PowerShell payload for family,
// following handler.py's split between its Unix and Windows-hourly
// bootstrap scripts.
func renderUserData(family config.UserDataFamily, d UserData) string {
	switch family {
	case config.FamilyWindowsHourly:
		return strings.Join([]string{
			"<powershell>",
			fmt.Sprintf("$env:JENKINS_URL = \"%s\"", d.MasterPublicURL),
			fmt.Sprintf("$env:JENKINS_PRIVATE_URL = \"%s\"", d.MasterTunnelURL),
			fmt.Sprintf("$env:JENKINS_TUNNEL = \"%s\"", d.TunnelAddress),
			fmt.Sprintf("$env:NODE_NAME = \"%s\"", d.NodeName),
			fmt.Sprintf("$env:AGENT_RETRY_RESET_SECONDS = \"%d\"", d.RetryResetSecs),
			fmt.Sprintf("$env:AGENT_MAX_RETRIES = \"%d\"", d.MaxAgentRetries),
			"Start-Service jenkins-agent",
			"</powershell>",
		}, "\n")
	default:
		return strings.Join([]string{
			"#!/bin/bash",
			"set -euo pipefail",
			fmt.Sprintf("export JENKINS_URL=%q", d.MasterPublicURL),
			fmt.Sprintf("export JENKINS_PRIVATE_URL=%q", d.MasterTunnelURL),
			fmt.Sprintf("export JENKINS_TUNNEL=%q", d.TunnelAddress),
			fmt.Sprintf("export NODE_NAME=%q", d.NodeName),
			fmt.Sprintf("export AGENT_RETRY_RESET_SECONDS=%q", strconv.Itoa(d.RetryResetSecs)),
			fmt.Sprintf("export AGENT_MAX_RETRIES=%q", strconv.Itoa(d.MaxAgentRetries)),
			"/opt/jenkins/bin/connect-agent.sh",
		}, "\n")
	}
}

// Launch starts a new VM for name/label from the label's launch
// template, tagging it so list_managed_vms and terminate_by_names can
// find it again.
func (c *Client) Launch(ctx context.Context, name string, label types.Label, lc config.LabelConfig, data UserData) (string, error) {
	data.NodeName = name
	userData := renderUserData(lc.UserDataFamily, data)
	encoded := base64.StdEncoding.EncodeToString([]byte(userData))

	timer := metrics.NewTimer()
	out, err := c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		MinCount: aws.Int32(1),
		MaxCount: aws.Int32(1),
		LaunchTemplate: &ec2types.LaunchTemplateSpecification{
			LaunchTemplateId: aws.String(lc.LaunchTemplate.ID),
			Version:          aws.String(lc.LaunchTemplate.Version),
		},
		UserData: aws.String(encoded),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
					{Key: aws.String("label"), Value: aws.String(string(label))},
					{Key: aws.String(managedTag), Value: aws.String("true")},
				},
			},
		},
	})
	metrics.VMRequestDuration.WithLabelValues("launch").Observe(timer.Duration().Seconds())

	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InsufficientInstanceCapacity" {
			metrics.VMRequestsTotal.WithLabelValues("launch", "insufficient_capacity").Inc()
			c.logger.Warn().Str("name", name).Str("label", string(label)).Msg("insufficient capacity launching VM")
			return "", ErrInsufficientCapacity
		}
		metrics.VMRequestsTotal.WithLabelValues("launch", "error").Inc()
		return "", fmt.Errorf("vmclient: launching %s: %w", name, err)
	}
	metrics.VMRequestsTotal.WithLabelValues("launch", "ok").Inc()

	if len(out.Instances) == 0 {
		return "", fmt.Errorf("vmclient: launching %s: RunInstances returned no instances", name)
	}
	return aws.ToString(out.Instances[0].InstanceId), nil
}

// TerminateByNames terminates every managed VM whose Name tag is in
// names, chunking lookups and terminations to terminateChunkSize.
func (c *Client) TerminateByNames(ctx context.Context, names []string) error {
	for _, chunk := range chunkStrings(names, terminateChunkSize) {
		ids, err := c.instanceIDsByName(ctx, chunk)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}

		timer := metrics.NewTimer()
		_, err = c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: ids})
		metrics.VMRequestDuration.WithLabelValues("terminate").Observe(timer.Duration().Seconds())
		if err != nil {
			metrics.VMRequestsTotal.WithLabelValues("terminate", "error").Inc()
			return fmt.Errorf("vmclient: terminating %d instances: %w", len(ids), err)
		}
		metrics.VMRequestsTotal.WithLabelValues("terminate", "ok").Inc()
	}
	return nil
}

func (c *Client) instanceIDsByName(ctx context.Context, names []string) ([]string, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: names},
			{Name: aws.String("tag:" + managedTag), Values: []string{"true"}},
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vmclient: resolving instance ids: %w", err)
	}
	var ids []string
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	return ids, nil
}

func chunkStrings(values []string, size int) [][]string {
	var chunks [][]string
	for size < len(values) {
		values, chunks = values[size:], append(chunks, values[:size:size])
	}
	if len(values) > 0 {
		chunks = append(chunks, values)
	}
	return chunks
}
