package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/audit"
	"github.com/entrhq/warden/pkg/engine"
	"github.com/entrhq/warden/pkg/governor"
	"github.com/entrhq/warden/pkg/logging"
	"github.com/entrhq/warden/pkg/policy"
	"github.com/entrhq/warden/pkg/session"
	"github.com/entrhq/warden/pkg/store"
)

// fakeEngine hands out fakePages and counts launches.
type fakeEngine struct {
	mu        sync.Mutex
	launches  int
	launchErr error
	pages     []*fakePage
	configure func(*fakePage)
}

func (e *fakeEngine) Launch(ctx context.Context) (engine.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	e.launches++
	page := newFakePage()
	if e.configure != nil {
		e.configure(page)
	}
	e.pages = append(e.pages, page)
	return page, nil
}

func (e *fakeEngine) launchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

func (e *fakeEngine) lastPage() *fakePage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pages) == 0 {
		return nil
	}
	return e.pages[len(e.pages)-1]
}

// fakePage records every interaction and can be scripted to fail or hang.
type fakePage struct {
	mu          sync.Mutex
	closed      chan struct{}
	closeOnce   sync.Once
	navigations []string
	clicks      []string
	typed       map[string]string
	submits     []string
	extracts    int

	extractText string
	clickErr    error
	navigateErr error
	blockClick  bool
	onExtract   func()
}

func newFakePage() *fakePage {
	return &fakePage{
		closed:      make(chan struct{}),
		typed:       make(map[string]string),
		extractText: "extracted page text",
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) (engine.PageInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navigateErr != nil {
		return engine.PageInfo{}, p.navigateErr
	}
	p.navigations = append(p.navigations, url)
	return engine.PageInfo{Title: "Example Page", URL: url}, nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if p.blockClick {
		// Hangs until the page is force-closed, like a real stuck await.
		<-p.closed
		return errors.New("browser closed while awaiting click")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clickErr != nil {
		return p.clickErr
	}
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed[selector] = value
	return nil
}

func (p *fakePage) Submit(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, selector)
	return nil
}

func (p *fakePage) Extract(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	hook := p.onExtract
	p.extracts++
	text := p.extractText
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return text, nil
}

func (p *fakePage) Scroll(ctx context.Context, direction engine.ScrollDirection) error {
	return nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (p *fakePage) DOMSnapshot(ctx context.Context) (string, error) {
	return "<body><p>page state</p></body>", nil
}

func (p *fakePage) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// testHarness bundles a runner with its observable collaborators.
type testHarness struct {
	runner *Runner
	store  *store.MemoryStore
	blobs  *store.MemoryBlobStore
	gov    *governor.Governor
	engine *fakeEngine
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()

	pol, err := policy.New(policy.Options{})
	require.NoError(t, err)

	h := &testHarness{
		store:  store.NewMemoryStore(),
		blobs:  store.NewMemoryBlobStore(),
		gov:    governor.New(2),
		engine: &fakeEngine{},
	}
	log := logging.Discard("runner")
	recorder := audit.NewRecorder(h.blobs, log, 0)
	h.runner = New(h.store, h.engine, pol, h.gov, recorder, log, opts)
	return h
}

func baseConfig(actions ...session.Action) session.Config {
	return session.Config{
		TenantID:  "tenant-1",
		AgentID:   "agent-1",
		TargetURL: "https://example.com",
		Purpose:   "test run",
		Actions:   actions,
	}
}

func TestExecuteSessionCompletesLowRiskPlan(t *testing.T) {
	h := newHarness(t, Options{})

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionNavigate, Target: "https://example.com/docs"},
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, result.Status)
	require.Len(t, result.Actions, 3) // initial navigation + 2 plan actions
	assert.Equal(t, session.ActionNavigate, result.Actions[0].Type)
	assert.Equal(t, session.ActionNavigate, result.Actions[1].Type)
	assert.Equal(t, session.ActionExtract, result.Actions[2].Type)
	assert.Equal(t, "extracted page text", result.ExtractedData)

	// Every executed action carries evidence.
	for _, rec := range result.Actions {
		assert.NotEmpty(t, rec.ScreenshotRef, "action %d", rec.Sequence)
		assert.NotEmpty(t, rec.DOMSnapshot, "action %d", rec.Sequence)
	}

	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestExecuteSessionPausesOnHighRisk(t *testing.T) {
	h := newHarness(t, Options{})

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionClick, Target: "#submit-payment"},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusPausedApproval, result.Status)
	require.NotNil(t, result.PauseIndex)
	assert.Equal(t, 0, *result.PauseIndex)
	require.NotEmpty(t, result.ApprovalRequestID)

	// The click never executed; only the initial navigation is recorded.
	require.Len(t, result.Actions, 1)
	assert.Equal(t, session.ActionNavigate, result.Actions[0].Type)
	assert.Empty(t, h.engine.lastPage().clicks)

	req, err := h.store.GetApprovalRequest(context.Background(), result.ApprovalRequestID)
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionPending, req.Decision)
	assert.Equal(t, 0, req.ActionIndex)
	assert.NotEmpty(t, req.EvidenceRef)

	// The paused session holds no concurrency slot.
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestExecuteSessionSkipsBlockedActions(t *testing.T) {
	h := newHarness(t, Options{})

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionTypeText, Target: "#password-field", Value: "x"},
	))
	require.NoError(t, err)

	// The session continues past the blocked action to completion.
	assert.Equal(t, session.StatusCompleted, result.Status)
	require.Len(t, result.Actions, 2)

	blocked := result.Actions[1]
	assert.Equal(t, session.RiskBlocked, blocked.Risk)
	assert.False(t, blocked.Approved)
	assert.Empty(t, blocked.Value, "blocked credential value must never be persisted")
	assert.Empty(t, blocked.ScreenshotRef)
	assert.Contains(t, blocked.Detail, "permanently blocked")

	// Nothing was typed into the page.
	assert.Empty(t, h.engine.lastPage().typed)
}

func TestExecuteSessionFailsAtCapacity(t *testing.T) {
	h := newHarness(t, Options{})

	// Saturate the tenant's slots.
	release1, ok := h.gov.Acquire("tenant-1")
	require.True(t, ok)
	defer release1()
	release2, ok := h.gov.Acquire("tenant-1")
	require.True(t, ok)
	defer release2()

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionExtract},
	))
	require.ErrorIs(t, err, session.ErrCapacity)

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "ceiling")
	assert.Equal(t, 0, h.engine.launchCount(), "no browser may launch at capacity")
}

func TestExecuteSessionHardTimeout(t *testing.T) {
	h := newHarness(t, Options{SessionTimeout: 50 * time.Millisecond})
	h.engine.configure = func(p *fakePage) { p.blockClick = true }

	start := time.Now()
	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionClick, Target: "#next-page"},
	))
	require.ErrorIs(t, err, session.ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second, "force-close must unblock the stuck await")

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "hard time limit")
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"), "slot released on the timeout path")
}

func TestExecuteSessionRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t, Options{})

	cfg := baseConfig(session.Action{Type: session.ActionExtract})
	cfg.TargetURL = "http://localhost:8080"

	result, err := h.runner.ExecuteSession(context.Background(), cfg)
	require.ErrorIs(t, err, session.ErrValidation)

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "validation failed")
	assert.Equal(t, 0, h.engine.launchCount())
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"), "slot never acquired for invalid config")
}

func TestExecuteSessionFailsOnExecutorError(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.configure = func(p *fakePage) { p.clickErr = errors.New("element not found") }

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionExtract},
		session.Action{Type: session.ActionClick, Target: "#missing"},
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "element not found")

	// Prior actions remain valid audit history; the failed click is the
	// last record and nothing after it ran.
	require.Len(t, result.Actions, 3) // init nav, extract, failed click
	assert.Equal(t, session.ActionClick, result.Actions[2].Type)
	assert.NotEmpty(t, result.Actions[2].Error)
	assert.Equal(t, 1, h.engine.lastPage().extracts)
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestExternalCancellationStopsBetweenActions(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// The operator overwrites the session to failed while the first
	// extract runs; the loop must notice before the second action.
	h.engine.configure = func(p *fakePage) {
		p.onExtract = func() {
			running, err := h.store.ListSessionsByStatus(ctx, session.StatusRunning)
			require.NoError(t, err)
			require.Len(t, running, 1)
			sess := running[0]
			now := time.Now().UTC()
			sess.Status = session.StatusFailed
			sess.StatusReason = "cancelled by operator"
			sess.FinishedAt = &now
			require.NoError(t, h.store.UpdateSession(ctx, sess))
		}
	}

	result, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionExtract},
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Equal(t, "cancelled by operator", result.Reason)
	assert.Equal(t, 1, h.engine.lastPage().extracts, "second action must not start")
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestPauseIndexIsFirstUnapprovedHighRisk(t *testing.T) {
	h := newHarness(t, Options{})

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionExtract},
		session.Action{Type: session.ActionClick, Target: "#delete-item"},
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusPausedApproval, result.Status)
	require.NotNil(t, result.PauseIndex)
	assert.Equal(t, 1, *result.PauseIndex)

	// Everything before the pause has a terminal per-action result.
	require.Len(t, result.Actions, 2) // init nav + first extract
	for _, rec := range result.Actions {
		assert.Empty(t, rec.Error)
		assert.NotEmpty(t, rec.Detail)
	}
}

func approve(t *testing.T, h *testHarness, requestID string) {
	t.Helper()
	req, err := h.store.GetApprovalRequest(context.Background(), requestID)
	require.NoError(t, err)
	req.Resolve(approval.DecisionApproved)
	require.NoError(t, h.store.UpdateApprovalRequest(context.Background(), req))
}

func TestResumeExecutesRemainingPlan(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	paused, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionExtract},
		session.Action{Type: session.ActionSubmit, Target: "#order-form"},
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)
	require.Equal(t, session.StatusPausedApproval, paused.Status)

	approve(t, h, paused.ApprovalRequestID)

	result, err := h.runner.ResumeSession(ctx, paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, result.Status)

	// The full sequence matches what an uninterrupted run would have
	// produced: init nav, extract, submit, extract.
	require.Len(t, result.Actions, 4)
	types := []session.ActionType{}
	for i, rec := range result.Actions {
		assert.Equal(t, i, rec.Sequence)
		types = append(types, rec.Type)
	}
	assert.Equal(t, []session.ActionType{
		session.ActionNavigate,
		session.ActionExtract,
		session.ActionSubmit,
		session.ActionExtract,
	}, types)

	// The approved submit executed exactly once, marked approved.
	submit := result.Actions[2]
	assert.True(t, submit.Approved)
	assert.Equal(t, session.RiskHigh, submit.Risk)
	require.NotNil(t, h.engine.lastPage())
	assert.Equal(t, []string{"#order-form"}, h.engine.lastPage().submits)

	// Both extracts contributed to the extracted data.
	assert.Equal(t, "extracted page text\n\nextracted page text", result.ExtractedData)

	// A second launch served the resume: no in-memory state survived.
	assert.Equal(t, 2, h.engine.launchCount())
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestResumePausesAgainOnLaterHighRisk(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	paused, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionSubmit, Target: "#step-one"},
		session.Action{Type: session.ActionSubmit, Target: "#step-two"},
	))
	require.NoError(t, err)
	require.Equal(t, 0, *paused.PauseIndex)

	approve(t, h, paused.ApprovalRequestID)

	// The approval covers only the paused action; the next high-risk
	// action pauses again.
	result, err := h.runner.ResumeSession(ctx, paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPausedApproval, result.Status)
	require.NotNil(t, result.PauseIndex)
	assert.Equal(t, 1, *result.PauseIndex)
	assert.NotEqual(t, paused.ApprovalRequestID, result.ApprovalRequestID)
}

func TestResumeRejectsNonPausedSessions(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	done, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, done.Status)

	_, err = h.runner.ResumeSession(ctx, done.SessionID)
	require.ErrorIs(t, err, session.ErrNotResumable)

	_, err = h.runner.ResumeSession(ctx, "no-such-session")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestResumeDoubleInvocationIsRejected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	paused, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionSubmit, Target: "#form"},
	))
	require.NoError(t, err)

	approve(t, h, paused.ApprovalRequestID)

	first, err := h.runner.ResumeSession(ctx, paused.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, first.Status)

	_, err = h.runner.ResumeSession(ctx, paused.SessionID)
	require.ErrorIs(t, err, session.ErrNotResumable)
}

func TestResumeDeniedApprovalFailsSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	paused, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionSubmit, Target: "#form"},
	))
	require.NoError(t, err)

	req, err := h.store.GetApprovalRequest(ctx, paused.ApprovalRequestID)
	require.NoError(t, err)
	req.Resolve(approval.DecisionDenied)
	require.NoError(t, h.store.UpdateApprovalRequest(ctx, req))

	result, err := h.runner.ResumeSession(ctx, paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "approval denied")

	// The denied submit never executed and no new engine launched.
	assert.Equal(t, 1, h.engine.launchCount())
}

func TestResumePendingApprovalIsRefused(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	paused, err := h.runner.ExecuteSession(ctx, baseConfig(
		session.Action{Type: session.ActionSubmit, Target: "#form"},
	))
	require.NoError(t, err)

	_, err = h.runner.ResumeSession(ctx, paused.SessionID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still pending")

	// The session stays paused and resumable.
	sess, err := h.store.GetSession(ctx, paused.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPausedApproval, sess.Status)
}

func TestReconcileOnStartFailsOrphans(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	// Simulate a crash: a session persisted as running with no engine.
	now := time.Now().UTC()
	orphan := &session.BrowserSession{
		ID:        "orphan-1",
		TenantID:  "tenant-1",
		AgentID:   "agent-1",
		TargetURL: "https://example.com",
		Plan:      []session.Action{{Type: session.ActionExtract}},
		Status:    session.StatusRunning,
		Risk:      session.RiskLow,
		CreatedAt: now,
		StartedAt: &now,
	}
	require.NoError(t, h.store.CreateSession(ctx, orphan))

	recovered, err := h.runner.ReconcileOnStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	sess, err := h.store.GetSession(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.Contains(t, sess.StatusReason, "restart")

	// Counters were rebuilt; the tenant has a clean slate.
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestEngineLaunchFailureFailsSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.launchErr = errors.New("chromium missing")

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusFailed, result.Status)
	assert.Contains(t, result.Reason, "launch failed")
	assert.Equal(t, 0, h.gov.InFlight("tenant-1"))
}

func TestExtractTruncatesOnRuneBoundary(t *testing.T) {
	h := newHarness(t, Options{ExtractCap: 31})
	h.engine.configure = func(p *fakePage) {
		p.extractText = strings.Repeat("é", 100) // 2 bytes per rune
	}

	result, err := h.runner.ExecuteSession(context.Background(), baseConfig(
		session.Action{Type: session.ActionExtract},
	))
	require.NoError(t, err)

	assert.Equal(t, session.StatusCompleted, result.Status)
	assert.True(t, utf8.ValidString(result.ExtractedData))
	// An odd-byte cap lands mid-rune; the whole last rune is dropped.
	assert.Equal(t, 30, len(result.ExtractedData))
}
