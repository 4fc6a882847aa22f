package approval

import "github.com/dukex/flowstate/pkg/models"

// Majority proceeds once approvals alone exceed half of the configured
// approvers, and rejects once rejections alone do.
type Majority struct{}

func NewMajority() *Majority {
	return &Majority{}
}

func (s *Majority) ID() string {
	return StrategyMajority
}

func (s *Majority) CanProceed(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	approved, _ := counts(approvals)

	return len(approved)*2 > len(policy.Approvers), nil
}

func (s *Majority) ShouldReject(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	_, rejected := counts(approvals)

	return len(rejected)*2 > len(policy.Approvers), nil
}
