package protocol

import "github.com/dukex/flowstate/pkg/models"

// ApprovalStrategy decides when a multi-approver task's verdict is final.
// Both methods are pure: they evaluate the same approvals snapshot with no
// hidden state, so re-evaluating after each new approval is safe.
//
// ShouldReject is evaluated before CanProceed at each new approval.
type ApprovalStrategy interface {
	ID() string
	CanProceed(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error)
	ShouldReject(approvals []models.Approval, policy *models.ApprovalPolicy) (bool, error)
}
