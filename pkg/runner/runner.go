// Package runner drives governed browser-automation sessions.
//
// The runner owns the session state machine (pending → running →
// paused_approval | completed | failed), the per-action risk gate, the
// audit capture of every executed step, and the resume protocol that
// re-enters a paused session after a human decision. All session and
// action records are written exclusively here.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/audit"
	"github.com/entrhq/warden/pkg/engine"
	"github.com/entrhq/warden/pkg/governor"
	"github.com/entrhq/warden/pkg/logging"
	"github.com/entrhq/warden/pkg/policy"
	"github.com/entrhq/warden/pkg/risk"
	"github.com/entrhq/warden/pkg/session"
	"github.com/entrhq/warden/pkg/store"
)

// Runner executes and resumes browser sessions.
type Runner struct {
	store    store.SessionStore
	engine   engine.Engine
	policy   *policy.Policy
	governor *governor.Governor
	recorder *audit.Recorder
	log      *logging.Logger

	sessionTimeout time.Duration
	extractCap     int
}

// Options tunes the runner's limits. Zero values use the defaults.
type Options struct {
	// SessionTimeout is the hard wall-clock limit per session.
	SessionTimeout time.Duration

	// ExtractCap bounds the text returned by one extract action.
	ExtractCap int
}

// DefaultExtractCap bounds extract results when Options leaves it unset.
const DefaultExtractCap = 20000

// New creates a Runner wired to its collaborators.
func New(st store.SessionStore, eng engine.Engine, pol *policy.Policy, gov *governor.Governor, rec *audit.Recorder, log *logging.Logger, opts Options) *Runner {
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = governor.DefaultSessionTimeout
	}
	extractCap := opts.ExtractCap
	if extractCap <= 0 {
		extractCap = DefaultExtractCap
	}
	return &Runner{
		store:          st,
		engine:         eng,
		policy:         pol,
		governor:       gov,
		recorder:       rec,
		log:            log,
		sessionTimeout: timeout,
		extractCap:     extractCap,
	}
}

// ExecuteSession validates, persists, and runs a new session to its first
// terminal or paused state. Validation and capacity failures are returned
// as ErrValidation / ErrCapacity so callers can tell "fix your request"
// from "try again later"; both persist a failed session without launching
// a browser.
func (r *Runner) ExecuteSession(ctx context.Context, cfg session.Config) (*session.Result, error) {
	domain := hostOf(cfg.TargetURL)
	now := time.Now().UTC()

	sess := &session.BrowserSession{
		ID:        uuid.New().String(),
		TenantID:  cfg.TenantID,
		AgentID:   cfg.AgentID,
		IntentID:  cfg.IntentID,
		TargetURL: cfg.TargetURL,
		Purpose:   cfg.Purpose,
		Plan:      cfg.Actions,
		Status:    session.StatusPending,
		Risk:      session.PlanRisk(cfg.Actions, risk.Level(domain)),
		CreatedAt: now,
	}

	if errs := r.policy.ValidateConfig(cfg); len(errs) > 0 {
		reason := "validation failed: " + strings.Join(errs, "; ")
		sess.Status = session.StatusFailed
		sess.StatusReason = reason
		sess.FinishedAt = &now
		if err := r.store.CreateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		r.log.Infof("session %s rejected: %s", sess.ID, reason)
		return r.buildResult(ctx, sess), fmt.Errorf("%w: %s", session.ErrValidation, strings.Join(errs, "; "))
	}

	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	release, ok := r.governor.Acquire(cfg.TenantID)
	if !ok {
		reason := fmt.Sprintf("tenant %s is at the concurrent-session ceiling (%d)", cfg.TenantID, r.governor.Ceiling())
		r.failSession(ctx, sess, reason)
		r.log.Infof("session %s refused: %s", sess.ID, reason)
		return r.buildResult(ctx, sess), fmt.Errorf("%w: %s", session.ErrCapacity, reason)
	}
	defer release()

	r.log.Infof("session %s started for tenant %s (%d actions, risk %s)", sess.ID, sess.TenantID, len(sess.Plan), sess.Risk)
	return r.run(ctx, sess, 0, -1)
}

// run drives the action loop from startIndex. approvedIndex is the one
// plan index whose risk gate has already been satisfied by an external
// approval (-1 on a fresh run). The concurrency slot is held by the caller;
// everything acquired here (engine, timer) is released on every exit path.
func (r *Runner) run(ctx context.Context, sess *session.BrowserSession, startIndex, approvedIndex int) (*session.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UTC()
	sess.Status = session.StatusRunning
	sess.StatusReason = ""
	sess.PauseIndex = nil
	sess.ApprovalRequestID = ""
	if sess.StartedAt == nil {
		sess.StartedAt = &now
	}
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to mark session running: %w", err)
	}

	page, err := r.engine.Launch(runCtx)
	if err != nil {
		r.failSession(ctx, sess, fmt.Sprintf("browser engine launch failed: %v", err))
		return r.buildResult(ctx, sess), nil
	}
	defer page.Close()

	// The hard timer force-closes the engine unconditionally, which makes
	// any in-flight action await fail instead of hanging.
	var timedOut atomic.Bool
	disarm := governor.ArmTimeout(r.sessionTimeout, func() {
		timedOut.Store(true)
		cancel()
		page.Close()
		r.log.Warnf("session %s exceeded the hard time limit, engine force-closed", sess.ID)
	})
	defer disarm()

	existing, err := r.store.ListActions(ctx, sess.ID)
	if err != nil {
		r.failSession(ctx, sess, fmt.Sprintf("failed to load action history: %v", err))
		return r.buildResult(ctx, sess), nil
	}
	seq := len(existing)

	domain := hostOf(sess.TargetURL)

	// Initial navigation to the session target. On a fresh run it is
	// recorded as a low-risk navigate action; on resume it only restores
	// page state that the paused run's engine held in memory.
	res := r.execNavigate(runCtx, page, session.Action{Type: session.ActionNavigate, Target: sess.TargetURL})
	if !res.OK {
		if timedOut.Load() {
			return r.failTimeout(ctx, sess)
		}
		r.failSession(ctx, sess, fmt.Sprintf("initial navigation failed: %v", res.Err))
		return r.buildResult(ctx, sess), nil
	}
	if seq == 0 {
		ev := r.recorder.Capture(runCtx, page, sess.TenantID, sess.ID, seq, session.ActionNavigate)
		r.appendRecord(ctx, sess, seq, session.Action{Type: session.ActionNavigate, Target: sess.TargetURL},
			session.RiskLow, false, ev, res)
		seq++
	}

	for i := startIndex; i < len(sess.Plan); i++ {
		// External cancellation is an async status overwrite; check for it
		// between actions and stop promptly.
		if current, err := r.store.GetSession(ctx, sess.ID); err == nil && current.Status == session.StatusFailed {
			r.log.Infof("session %s cancelled externally: %s", sess.ID, current.StatusReason)
			return r.buildResult(ctx, current), nil
		}
		if timedOut.Load() || runCtx.Err() != nil {
			return r.failTimeout(ctx, sess)
		}

		action := sess.Plan[i]
		cls := risk.Classify(action, domain)

		if cls.Blocked {
			// Recorded, never executed, and the value is never echoed.
			r.appendRecord(ctx, sess, seq, session.Action{Type: action.Type, Target: action.Target},
				session.RiskBlocked, false, audit.Evidence{}, execResult{Detail: cls.Reason})
			r.log.Infof("session %s action %d blocked: %s", sess.ID, i, cls.Reason)
			seq++
			continue
		}

		if cls.RequiresApproval && i != approvedIndex {
			return r.pauseForApproval(ctx, runCtx, sess, page, i, action, cls)
		}

		res := r.executeAction(runCtx, page, action)
		if !res.OK {
			if timedOut.Load() {
				return r.failTimeout(ctx, sess)
			}
			ev := r.recorder.Capture(runCtx, page, sess.TenantID, sess.ID, seq, action.Type)
			r.appendRecord(ctx, sess, seq, action, cls.Level, i == approvedIndex, ev, res)
			r.failSession(ctx, sess, fmt.Sprintf("action %d (%s) failed: %v", i, action.Type, res.Err))
			return r.buildResult(ctx, sess), nil
		}

		ev := r.recorder.Capture(runCtx, page, sess.TenantID, sess.ID, seq, action.Type)
		r.appendRecord(ctx, sess, seq, action, cls.Level, i == approvedIndex, ev, res)
		seq++

		if res.Extracted != "" {
			if sess.ExtractedData != "" {
				sess.ExtractedData += "\n\n"
			}
			sess.ExtractedData += res.Extracted
		}
	}

	finished := time.Now().UTC()
	sess.Status = session.StatusCompleted
	sess.StatusReason = "all actions executed"
	sess.FinishedAt = &finished
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to mark session completed: %w", err)
	}
	r.log.Infof("session %s completed", sess.ID)
	return r.buildResult(ctx, sess), nil
}

// pauseForApproval suspends the session at plan index i: it captures
// pre-action evidence for the reviewer, creates the approval request, and
// persists the paused state. This is a first-class outcome, not a failure;
// the engine is closed by the caller's defers and resume relaunches it.
func (r *Runner) pauseForApproval(ctx, runCtx context.Context, sess *session.BrowserSession, page engine.Page, i int, action session.Action, cls risk.Classification) (*session.Result, error) {
	ev := r.recorder.Capture(runCtx, page, sess.TenantID, sess.ID, i, action.Type)

	req := approval.NewRequest(sess.TenantID, sess.ID, i, ev.ScreenshotRef,
		fmt.Sprintf("%s: %s", cls.Reason, action))
	if err := r.store.CreateApprovalRequest(ctx, req); err != nil {
		r.failSession(ctx, sess, fmt.Sprintf("failed to create approval request: %v", err))
		return r.buildResult(ctx, sess), nil
	}

	idx := i
	sess.Status = session.StatusPausedApproval
	sess.PauseIndex = &idx
	sess.ApprovalRequestID = req.ID
	sess.StatusReason = fmt.Sprintf("awaiting approval for action %d (%s)", i, action)
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist paused session: %w", err)
	}

	r.log.Infof("session %s paused at action %d awaiting approval %s", sess.ID, i, req.ID)
	return r.buildResult(ctx, sess), nil
}

// failSession persists a terminal failure unless the session has already
// reached a terminal state.
func (r *Runner) failSession(ctx context.Context, sess *session.BrowserSession, reason string) {
	if sess.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	sess.Status = session.StatusFailed
	sess.StatusReason = reason
	sess.FinishedAt = &now
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		r.log.Errorf("failed to persist failure of session %s: %v", sess.ID, err)
	}
}

func (r *Runner) failTimeout(ctx context.Context, sess *session.BrowserSession) (*session.Result, error) {
	r.failSession(ctx, sess, fmt.Sprintf("session exceeded the hard time limit of %s", r.sessionTimeout))
	return r.buildResult(ctx, sess), session.ErrTimeout
}

// appendRecord persists one action record. Record persistence failures are
// logged but do not stop the session: the action already happened.
func (r *Runner) appendRecord(ctx context.Context, sess *session.BrowserSession, seq int, action session.Action, level session.RiskLevel, approved bool, ev audit.Evidence, res execResult) {
	rec := &session.ActionRecord{
		SessionID:     sess.ID,
		Sequence:      seq,
		Type:          action.Type,
		Target:        action.Target,
		Value:         action.Value,
		Risk:          level,
		Approved:      approved,
		ScreenshotRef: ev.ScreenshotRef,
		DOMSnapshot:   ev.DOMSnapshot,
		Detail:        res.Detail,
		ExecutedAt:    time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := r.store.AppendAction(ctx, rec); err != nil {
		r.log.Errorf("failed to persist action %d of session %s: %v", seq, sess.ID, err)
	}
}

// buildResult assembles the caller-facing result from persisted state.
func (r *Runner) buildResult(ctx context.Context, sess *session.BrowserSession) *session.Result {
	actions, err := r.store.ListActions(ctx, sess.ID)
	if err != nil {
		r.log.Errorf("failed to load actions of session %s: %v", sess.ID, err)
	}
	result := &session.Result{
		SessionID:         sess.ID,
		Status:            sess.Status,
		Reason:            sess.StatusReason,
		Actions:           actions,
		ExtractedData:     sess.ExtractedData,
		PauseIndex:        sess.PauseIndex,
		ApprovalRequestID: sess.ApprovalRequestID,
	}
	if sess.Status == session.StatusFailed {
		result.Error = sess.StatusReason
	}
	return result
}

// hostOf returns the hostname of a URL, empty when it does not parse.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// IsRetryable reports whether err represents a transient refusal (capacity)
// rather than a request defect.
func IsRetryable(err error) bool {
	return errors.Is(err, session.ErrCapacity)
}
