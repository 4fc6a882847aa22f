// Package protocol defines the capability contracts the engine invokes:
// activities bound to state entry/exit and approval strategies for
// multi-approver tasks. Implementations are registered by name at startup;
// the engine never executes arbitrary user code.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/flowstate/pkg/models"
)

// Activity is a named side-effecting action attached to state entry or exit.
// Execute returns a result map the engine keeps only for logging and
// compensation bookkeeping.
type Activity interface {
	Execute(ctx context.Context, instance *models.WorkflowInstance, logger *slog.Logger) (map[string]any, error)

	// Compensate undoes a previously successful Execute when a later activity
	// in the same transition fails. Compensation is best-effort: a failure
	// here is logged by the engine and never masks the original error.
	Compensate(ctx context.Context, instance *models.WorkflowInstance, priorResult map[string]any, logger *slog.Logger) error
}

// ActivityFactory builds a configured Activity instance.
type ActivityFactory interface {
	Create(config map[string]any) (Activity, error)
	ID() string
}
