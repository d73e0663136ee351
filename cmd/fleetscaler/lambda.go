//go:build lambda

package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/cuemby/fleetscaler/internal/config"
	"github.com/cuemby/fleetscaler/internal/masterclient"
	"github.com/cuemby/fleetscaler/internal/reconciler"
	"github.com/cuemby/fleetscaler/internal/vmclient"
)

// ScheduledEvent is the EventBridge payload that triggers a
// reconciliation pass. The original Lambda's cron rule carries no
// fields this handler needs; its presence is just the trigger.
type ScheduledEvent struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
}

func handleRequest(ctx context.Context, event ScheduledEvent) error {
	reg, err := config.Load("")
	if err != nil {
		return err
	}

	master := masterclient.New(reg.MasterPublicURL, reg.MasterRequestTimeout)
	vm, err := vmclient.New(ctx)
	if err != nil {
		return err
	}

	reconciler.New(master, vm, reg).RunOnce(ctx)
	return nil
}

func main() {
	lambda.Start(handleRequest)
}
