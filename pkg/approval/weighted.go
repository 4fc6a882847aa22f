package approval

import "github.com/dukex/flowstate/pkg/models"

// Weighted sums per-approver weights from the policy against a threshold.
// Approvers without an explicit weight count as 1. The task rejects as soon
// as the threshold can no longer be reached by the remaining approvers.
type Weighted struct{}

func NewWeighted() *Weighted {
	return &Weighted{}
}

func (s *Weighted) ID() string {
	return StrategyWeighted
}

func (s *Weighted) CanProceed(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	approved, _ := counts(approvals)

	var sum float64
	for approver := range approved {
		sum += weightOf(policy, approver)
	}

	return sum >= policy.Threshold, nil
}

func (s *Weighted) ShouldReject(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error) {
	if len(policy.Approvers) == 0 {
		return false, ErrNoApproversConfigured
	}

	_, rejected := counts(approvals)

	var total, lost float64

	for _, approver := range policy.Approvers {
		weight := weightOf(policy, approver)
		total += weight

		if _, ok := rejected[approver]; ok {
			lost += weight
		}
	}

	return total-lost < policy.Threshold, nil
}

func weightOf(policy *models.ApprovalPolicy, approver string) float64 {
	if w, ok := policy.Weights[approver]; ok {
		return w
	}

	return 1
}
