// Package approval defines the records exchanged with the human-approval
// subsystem.
//
// The session engine only creates requests and reads their resolution; the
// notification and review workflow itself is owned by an external system.
// External callers invoke the resume protocol once a decision is known.
package approval

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the state of an approval request.
type Decision string

const (
	// DecisionPending means no human has ruled on the request yet.
	DecisionPending Decision = "pending"

	// DecisionApproved authorizes the paused action to execute.
	DecisionApproved Decision = "approved"

	// DecisionDenied forbids the paused action; the session fails.
	DecisionDenied Decision = "denied"
)

// Request asks a human to authorize one specific paused high-risk action.
type Request struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	SessionID string `json:"sessionId"`

	// ActionIndex is the plan index of the action awaiting approval.
	ActionIndex int `json:"actionIndex"`

	// EvidenceRef is the object-store path of the pre-action screenshot
	// shown to the reviewer. Empty when capture failed.
	EvidenceRef string `json:"evidenceRef,omitempty"`

	// Summary describes the action for the reviewer.
	Summary string `json:"summary,omitempty"`

	Decision Decision `json:"decision"`

	// Consumed is set when the resume protocol has acted on the decision,
	// so a decision is never applied twice.
	Consumed bool `json:"consumed"`

	CreatedAt time.Time  `json:"createdAt"`
	DecidedAt *time.Time `json:"decidedAt,omitempty"`
}

// NewRequest creates a pending request for the given paused action.
func NewRequest(tenantID, sessionID string, actionIndex int, evidenceRef, summary string) *Request {
	return &Request{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		SessionID:   sessionID,
		ActionIndex: actionIndex,
		EvidenceRef: evidenceRef,
		Summary:     summary,
		Decision:    DecisionPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// Resolve records the human decision. Resolving an already-decided request
// is a no-op so duplicate notifications are harmless.
func (r *Request) Resolve(decision Decision) {
	if r.Decision != DecisionPending {
		return
	}
	now := time.Now().UTC()
	r.Decision = decision
	r.DecidedAt = &now
}
