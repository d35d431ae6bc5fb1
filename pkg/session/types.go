package session

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Status represents the lifecycle state of a browser session.
type Status string

const (
	// StatusPending is the transient state while a session is being validated.
	StatusPending Status = "pending"

	// StatusRunning indicates the session is actively executing actions.
	StatusRunning Status = "running"

	// StatusPausedApproval indicates the session is suspended waiting for a
	// human decision on a high-risk action. This is a durable suspension:
	// the process may exit entirely while in this state.
	StatusPausedApproval Status = "paused_approval"

	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "completed"

	// StatusFailed is the terminal failure state.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is immutable once set.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RiskLevel classifies the sensitivity of a single browser action.
type RiskLevel string

const (
	// RiskLow actions execute automatically without review.
	RiskLow RiskLevel = "low"

	// RiskMedium actions execute automatically but are flagged in the audit
	// trail (e.g. navigation off the declared target domain).
	RiskMedium RiskLevel = "medium"

	// RiskHigh actions pause the session and require human approval.
	RiskHigh RiskLevel = "high"

	// RiskBlocked actions are never executed, regardless of approval.
	RiskBlocked RiskLevel = "blocked"
)

// rank orders risk levels from least to most severe for worst-of comparisons.
func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskBlocked:
		return 3
	}
	return 0
}

// Worst returns the more severe of the two risk levels.
func (r RiskLevel) Worst(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// ActionType enumerates the atomic browser interactions a session may
// perform. The set is closed: dispatch over it is an exhaustive switch, so
// adding a type is a compile-time requirement on every executor.
type ActionType string

const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionTypeText   ActionType = "type"
	ActionExtract    ActionType = "extract"
	ActionScroll     ActionType = "scroll"
	ActionSubmit     ActionType = "submit"
	ActionScreenshot ActionType = "screenshot"
)

// AllActionTypes lists every valid action type.
var AllActionTypes = []ActionType{
	ActionNavigate,
	ActionClick,
	ActionTypeText,
	ActionExtract,
	ActionScroll,
	ActionSubmit,
	ActionScreenshot,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, known := range AllActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UnmarshalYAML rejects unknown action types at plan-parse time instead of
// letting them surface as execution failures.
func (t *ActionType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed := ActionType(s)
	if !parsed.Valid() {
		return fmt.Errorf("unknown action type %q", s)
	}
	*t = parsed
	return nil
}

// RequiresTarget reports whether the action type needs a non-empty
// selector or URL target to be structurally valid.
func (t ActionType) RequiresTarget() bool {
	switch t {
	case ActionNavigate, ActionClick, ActionTypeText, ActionSubmit:
		return true
	case ActionExtract, ActionScroll, ActionScreenshot:
		return false
	}
	return false
}

// Action is one requested step in a session's plan.
type Action struct {
	// Type is the kind of browser interaction.
	Type ActionType `yaml:"type" json:"type"`

	// Target is the CSS selector the action operates on, or the URL for
	// navigate actions. For scroll it holds the direction ("up"/"down").
	Target string `yaml:"target" json:"target"`

	// Value is the text to enter for type actions. It is never persisted
	// for blocked actions.
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

func (a Action) String() string {
	if a.Target == "" {
		return string(a.Type)
	}
	return fmt.Sprintf("%s %s", a.Type, a.Target)
}

// Config is the immutable intent of a session: who wants it, where it
// points, and the ordered action plan.
type Config struct {
	TenantID  string   `yaml:"tenant_id" json:"tenantId"`
	AgentID   string   `yaml:"agent_id" json:"agentId"`
	IntentID  string   `yaml:"intent_id,omitempty" json:"intentId,omitempty"`
	TargetURL string   `yaml:"target_url" json:"targetUrl"`
	Purpose   string   `yaml:"purpose" json:"purpose"`
	Actions   []Action `yaml:"actions" json:"actions"`
}

// BrowserSession is the durable record of one governed automation run.
type BrowserSession struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	AgentID  string `json:"agentId"`
	IntentID string `json:"intentId,omitempty"`

	TargetURL string   `json:"targetUrl"`
	Purpose   string   `json:"purpose"`
	Plan      []Action `json:"plan"`

	Status Status    `json:"status"`
	Risk   RiskLevel `json:"risk"`

	// PauseIndex is the plan index the session paused at. Only meaningful
	// while Status is paused_approval.
	PauseIndex *int `json:"pauseIndex,omitempty"`

	// ApprovalRequestID links the pending approval while paused.
	ApprovalRequestID string `json:"approvalRequestId,omitempty"`

	// StatusReason is the human-readable explanation for the current
	// terminal or paused state.
	StatusReason string `json:"statusReason,omitempty"`

	ExtractedData string `json:"extractedData,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// ActionRecord is one executed, blocked, or paused step within a session.
// Records are append-only and strictly ordered by Sequence.
type ActionRecord struct {
	SessionID string `json:"sessionId"`
	Sequence  int    `json:"sequence"`

	Type   ActionType `json:"type"`
	Target string     `json:"target,omitempty"`

	// Value is the input supplied to type actions. Blocked actions never
	// persist a value.
	Value string `json:"value,omitempty"`

	Risk     RiskLevel `json:"risk"`
	Approved bool      `json:"approved"`

	// ScreenshotRef is the object-store path of the post-action screenshot,
	// empty when capture failed (capture is best-effort).
	ScreenshotRef string `json:"screenshotRef,omitempty"`

	// DOMSnapshot is the sanitized, size-capped page HTML after the action.
	DOMSnapshot string `json:"domSnapshot,omitempty"`

	// Detail is the executor's result description (page title, extracted
	// length, rejection marker for blocked actions).
	Detail string `json:"detail,omitempty"`

	Error string `json:"error,omitempty"`

	ExecutedAt time.Time `json:"executedAt"`
}

// Result is the synchronous outcome returned to the caller of
// ExecuteSession or ResumeSession.
type Result struct {
	SessionID         string         `json:"sessionId"`
	Status            Status         `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	Actions           []ActionRecord `json:"actions"`
	ExtractedData     string         `json:"extractedData,omitempty"`
	PauseIndex        *int           `json:"pauseIndex,omitempty"`
	ApprovalRequestID string         `json:"approvalRequestId,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// ResumeToken is the fully serializable bookmark that lets a paused session
// be re-entered from any process: no in-memory continuation is involved.
type ResumeToken struct {
	SessionID string `json:"sessionId"`
	NextIndex int    `json:"nextIndex"`
}

// PlanRisk derives a session's risk tier from the worst action in its plan,
// using the supplied per-action classifier.
func PlanRisk(actions []Action, classify func(Action) RiskLevel) RiskLevel {
	risk := RiskLow
	for _, a := range actions {
		risk = risk.Worst(classify(a))
	}
	return risk
}
