package domain

import "time"

// ContextMode selects how gated actions are executed.
type ContextMode string

const (
	// ModeOperator executes actions directly with no quorum.
	ModeOperator ContextMode = "operator"
	// ModeConsensus requires a quorum of owner sign-offs before execution.
	ModeConsensus ContextMode = "consensus"
)

// ApprovalContext is the active owner-set configuration. At most one context
// is current: the latest by creation time. Creating a new context supersedes
// prior ones without deleting them.
type ApprovalContext struct {
	ID      string      `json:"id"`
	Mode    ContextMode `json:"mode"`
	Owners  []string    `json:"owners"` // unique, order preserved
	Created time.Time   `json:"created"`
}

// ConsensusEnabled reports whether actions under this context need a quorum.
func (c ApprovalContext) ConsensusEnabled() bool { return c.Mode == ModeConsensus }

// ApprovalStatus is the lifecycle state of one gated-action request.
// pending -> approved -> executed, or pending -> rejected. Terminal states
// are absorbing.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Terminal reports whether the status never reverts.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalExecuted || s == ApprovalRejected
}

// Approval is one pending or resolved request to perform a gated action.
// Invariant: Approvers is a subset of the context's owners, unique members.
type Approval struct {
	ID          string         `json:"id"`
	ContextID   string         `json:"contextId"`
	StreamID    string         `json:"streamId,omitempty"`
	Action      string         `json:"action"`
	Status      ApprovalStatus `json:"status"`
	RequestedBy string         `json:"requestedBy"`
	Approvers   []string       `json:"approvers"`
	Payload     map[string]any `json:"payload,omitempty"`
	Created     time.Time      `json:"created"`
}

// HasApprover reports whether the owner already signed off.
func (a Approval) HasApprover(owner string) bool {
	for _, v := range a.Approvers {
		if v == owner {
			return true
		}
	}
	return false
}

// QuorumForOwners is the fixed approval threshold: two signers, or the full
// owner count when fewer than two owners exist. Deliberately not a
// configurable N-of-M.
func QuorumForOwners(owners []string) int {
	n := len(owners)
	if n == 0 {
		return 2
	}
	if n < 2 {
		return n
	}
	return 2
}
