// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	logactivity "github.com/dukex/flowstate/pkg/activities/log"
	"github.com/dukex/flowstate/pkg/activities/notify"
	"github.com/dukex/flowstate/pkg/activities/webhook"
	"github.com/dukex/flowstate/pkg/approval"
	"github.com/dukex/flowstate/pkg/eventbus"
	"github.com/dukex/flowstate/pkg/registry"
)

func registerNativeActivities(reg *registry.Registry, bus eventbus.EventBus) {
	reg.RegisterActivity(logactivity.NewLogActivityFactory())
	reg.RegisterActivity(webhook.NewWebhookActivityFactory())
	reg.RegisterActivity(notify.NewNotifyActivityFactory(bus))
}

func registerNativeStrategies(reg *registry.Registry) {
	reg.RegisterApprovalStrategy(approval.NewUnanimous())
	reg.RegisterApprovalStrategy(approval.NewMajority())
	reg.RegisterApprovalStrategy(approval.NewWeighted())
}

// NewRegistry builds a registry populated with the compiled-in activities
// and approval strategies.
func NewRegistry(log *slog.Logger, bus eventbus.EventBus) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActivities(reg, bus)
	registerNativeStrategies(reg)

	return reg
}
