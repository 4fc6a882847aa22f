// Package delegation resolves the effective assignee for a task by
// following active delegation records. Resolution is read-only and bounded
// by a depth cap to defend against cycles.
package delegation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowstate/pkg/persistence"
)

// DefaultMaxDepth bounds delegation chain traversal.
const DefaultMaxDepth = 10

// ChainTooDeepError is returned when a delegation chain exceeds the depth
// cap, which also covers the cyclic case (A delegates to B, B back to A).
type ChainTooDeepError struct {
	UserID   string
	MaxDepth int
}

func (e *ChainTooDeepError) Error() string {
	return fmt.Sprintf("delegation chain for user %q exceeds maximum depth %d", e.UserID, e.MaxDepth)
}

// Resolver follows active delegation chains to find the user who should
// actually receive a task.
type Resolver struct {
	delegations persistence.DelegationRepository
	maxDepth    int
	logger      *slog.Logger
}

// NewResolver creates a resolver with the given depth cap. A non-positive
// maxDepth falls back to DefaultMaxDepth.
func NewResolver(delegations persistence.DelegationRepository, maxDepth int, logger *slog.Logger) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	return &Resolver{
		delegations: delegations,
		maxDepth:    maxDepth,
		logger:      logger.With("module", "delegation"),
	}
}

// ResolveAssignee walks active delegations starting from userID and returns
// the final delegatee. When several delegations are active for the same
// delegator, the most recently created one wins.
func (r *Resolver) ResolveAssignee(ctx context.Context, userID string, asOf time.Time) (string, error) {
	current := userID

	for depth := 0; depth < r.maxDepth; depth++ {
		active, err := r.delegations.ActiveForDelegator(ctx, current, asOf)
		if err != nil {
			return "", fmt.Errorf("failed to load delegations for %q: %w", current, err)
		}

		if len(active) == 0 {
			if current != userID {
				r.logger.DebugContext(ctx, "resolved delegated assignee",
					"original", userID, "effective", current, "depth", depth)
			}

			return current, nil
		}

		current = active[0].DelegateeID
	}

	return "", &ChainTooDeepError{UserID: userID, MaxDepth: r.maxDepth}
}
