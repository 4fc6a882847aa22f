// Package registry maps capability names to their implementations. Domain
// packages register activities and approval strategies at startup; the engine
// resolves them by the names referenced in workflow definitions.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowstate/pkg/protocol"
)

var (
	ErrActivityNotRegistered = errors.New("activity not registered")
	ErrStrategyNotRegistered = errors.New("approval strategy not registered")
)

type Registry struct {
	logger            *slog.Logger
	activityFactories map[string]protocol.ActivityFactory
	strategies        map[string]protocol.ApprovalStrategy
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:            log,
		activityFactories: make(map[string]protocol.ActivityFactory),
		strategies:        make(map[string]protocol.ApprovalStrategy),
	}
}

func (r *Registry) RegisterActivity(factory protocol.ActivityFactory) {
	r.activityFactories[factory.ID()] = factory
}

func (r *Registry) RegisterApprovalStrategy(strategy protocol.ApprovalStrategy) {
	r.strategies[strategy.ID()] = strategy
}

// CreateActivity builds a configured activity by registered name.
func (r *Registry) CreateActivity(name string, config map[string]any) (protocol.Activity, error) {
	factory, ok := r.activityFactories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActivityNotRegistered, name)
	}

	return factory.Create(config)
}

// ApprovalStrategy resolves a strategy by registered name.
func (r *Registry) ApprovalStrategy(name string) (protocol.ApprovalStrategy, error) {
	strategy, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStrategyNotRegistered, name)
	}

	return strategy, nil
}

// ActivityIDs returns the registered activity names, for authoring-time
// validation of definitions.
func (r *Registry) ActivityIDs() []string {
	ids := make([]string, 0, len(r.activityFactories))
	for id := range r.activityFactories {
		ids = append(ids, id)
	}

	return ids
}
