package session

import "errors"

// Sentinel errors distinguishing the failure taxonomy surfaced to callers.
// Capacity and validation failures are synchronous and carry a specific
// cause so callers can tell "try again later" from "fix your request".
var (
	// ErrValidation indicates the session config failed governance
	// validation and the session never started.
	ErrValidation = errors.New("session config failed validation")

	// ErrCapacity indicates the tenant is at its concurrent-session
	// ceiling. The attempt failed without launching a browser; the caller
	// may retry later.
	ErrCapacity = errors.New("tenant concurrency ceiling reached")

	// ErrTimeout indicates the hard session-duration limit expired and the
	// browser engine was force-closed.
	ErrTimeout = errors.New("session exceeded hard time limit")

	// ErrNotResumable indicates a resume was attempted on a session that is
	// not in the paused_approval state.
	ErrNotResumable = errors.New("session is not paused for approval")

	// ErrBlockedTarget indicates the navigation target itself violates
	// policy, which is fatal to the session.
	ErrBlockedTarget = errors.New("target URL is blocked by policy")

	// ErrSessionNotFound indicates no persisted session matches the id.
	ErrSessionNotFound = errors.New("session not found")
)
