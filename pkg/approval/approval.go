// Package approval implements the built-in multi-approver consensus
// strategies: unanimous, majority and weighted. All strategies are pure
// functions over an approvals snapshot plus the state's approval policy.
package approval

import (
	"errors"

	"github.com/dukex/flowstate/pkg/models"
)

var ErrNoApproversConfigured = errors.New("approval policy has no approvers configured")

// Strategy names as registered.
const (
	StrategyUnanimous = "unanimous"
	StrategyMajority  = "majority"
	StrategyWeighted  = "weighted"
)

// counts tallies the latest action per approver. An approver appearing more
// than once in the snapshot counts once, with the most recent action winning.
func counts(approvals []models.Approval) (approved, rejected map[string]struct{}) {
	approved = make(map[string]struct{})
	rejected = make(map[string]struct{})

	for _, a := range approvals {
		delete(approved, a.ApproverID)
		delete(rejected, a.ApproverID)

		switch a.Action {
		case models.TaskActionApprove:
			approved[a.ApproverID] = struct{}{}
		case models.TaskActionReject:
			rejected[a.ApproverID] = struct{}{}
		}
	}

	return approved, rejected
}
