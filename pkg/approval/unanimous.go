package approval

import "github.com/dukex/flowstate/pkg/models"

// Unanimous requires every configured approver to approve; a single
// rejection rejects the whole task immediately.
type Unanimous struct{}

func NewUnanimous() *Unanimous {
	return &Unanimous{}
}

func (s *Unanimous) ID() string {
	return StrategyUnanimous
}

func (s *Unanimous) CanProceed(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	approved, rejected := counts(approvals)
	if len(rejected) > 0 {
		return false, nil
	}

	for _, approver := range policy.Approvers {
		if _, ok := approved[approver]; !ok {
			return false, nil
		}
	}

	return true, nil
}

func (s *Unanimous) ShouldReject(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	_, rejected := counts(approvals)

	return len(rejected) > 0, nil
}
