package adaptation

import "errors"

// Errors returned by the engine. The error text is the tag reported to
// callers at the API boundary.
var (
	ErrProposalNotFound     = errors.New("proposal_not_found")
	ErrNotPending           = errors.New("proposal_not_pending")
	ErrHumanApproval        = errors.New("human_approval_required")
	ErrHighRiskApprover     = errors.New("high_risk_requires_human_or_verified_core")
	ErrNotApproved          = errors.New("proposal_not_approved")
	ErrNotApplied           = errors.New("proposal_not_applied")
	ErrRollbackNotAvailable = errors.New("rollback_not_available")
	ErrInvalidChange        = errors.New("invalid_change")
	ErrApplyFailed          = errors.New("apply_failed")
	ErrRollbackFailed       = errors.New("rollback_failed")
)

// Well-known approver identities.
const (
	ApproverHuman        = "human"
	ApproverCoreVerified = "core_verified"
	ApproverCore         = "core"
)
