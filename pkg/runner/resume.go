package runner

import (
	"context"
	"fmt"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/session"
)

// ResumeSession re-enters a paused session once its approval request has
// been decided. Only paused_approval is a valid resume source: resuming a
// running, completed, or failed session returns ErrNotResumable, which
// makes duplicate resume invocations harmless.
//
// Resume assumes nothing from the paused run survives in memory. The
// session, its plan, the pause index, and the decision are all read from
// the store, and a fresh engine instance is launched, so resume works from
// a different process or machine than the one that paused.
func (r *Runner) ResumeSession(ctx context.Context, sessionID string) (*session.Result, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}

	if sess.Status != session.StatusPausedApproval {
		return nil, fmt.Errorf("%w: session %s is %s", session.ErrNotResumable, sessionID, sess.Status)
	}
	if sess.PauseIndex == nil || sess.ApprovalRequestID == "" {
		return nil, fmt.Errorf("session %s is paused without a resume bookmark", sessionID)
	}

	req, err := r.store.GetApprovalRequest(ctx, sess.ApprovalRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request %s: %w", sess.ApprovalRequestID, err)
	}

	switch req.Decision {
	case approval.DecisionPending:
		return nil, fmt.Errorf("approval request %s is still pending", req.ID)
	case approval.DecisionDenied:
		r.consumeApproval(ctx, req)
		r.failSession(ctx, sess, fmt.Sprintf("approval denied for action %d", req.ActionIndex))
		r.log.Infof("session %s failed: approval %s denied", sess.ID, req.ID)
		return r.buildResult(ctx, sess), nil
	case approval.DecisionApproved:
		// Fall through to re-entry.
	default:
		return nil, fmt.Errorf("approval request %s has unknown decision %q", req.ID, req.Decision)
	}

	release, ok := r.governor.Acquire(sess.TenantID)
	if !ok {
		// The session stays paused; the caller retries once the tenant has
		// a free slot.
		return nil, fmt.Errorf("%w: cannot resume session %s now", session.ErrCapacity, sess.ID)
	}
	defer release()

	r.consumeApproval(ctx, req)

	// The approved index is exempt from the risk gate exactly once; it
	// still runs through the same executor and audit path as any other
	// action, and later high-risk actions pause again.
	resumeIndex := *sess.PauseIndex
	r.log.Infof("session %s resuming at action %d after approval %s", sess.ID, resumeIndex, req.ID)
	return r.run(ctx, sess, resumeIndex, resumeIndex)
}

// consumeApproval marks the decision as acted upon so it can never be
// applied twice.
func (r *Runner) consumeApproval(ctx context.Context, req *approval.Request) {
	if req.Consumed {
		return
	}
	req.Consumed = true
	if err := r.store.UpdateApprovalRequest(ctx, req); err != nil {
		r.log.Errorf("failed to mark approval %s consumed: %v", req.ID, err)
	}
}
