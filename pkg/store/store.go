// Package store provides the persistence collaborators of the session
// engine: durable session/action records and screenshot blob storage.
//
// The runner owns all writes to session and action rows; external readers
// observe state only through these records.
package store

import (
	"context"
	"errors"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/session"
)

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("record not found")

// SessionStore persists BrowserSession, BrowserAction, and ApprovalRequest
// records. Implementations must support listing sessions by status: resume
// and restart reconciliation depend on the paused_approval and running
// scans.
type SessionStore interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, s *session.BrowserSession) error

	// UpdateSession overwrites the mutable fields of a session record.
	UpdateSession(ctx context.Context, s *session.BrowserSession) error

	// GetSession loads a session by id, returning ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (*session.BrowserSession, error)

	// ListSessionsByStatus returns all sessions currently in the given
	// status.
	ListSessionsByStatus(ctx context.Context, status session.Status) ([]*session.BrowserSession, error)

	// AppendAction appends one action record to a session's ordered
	// history.
	AppendAction(ctx context.Context, rec *session.ActionRecord) error

	// ListActions returns a session's action records ordered by sequence.
	ListActions(ctx context.Context, sessionID string) ([]session.ActionRecord, error)

	// CreateApprovalRequest inserts a new approval request.
	CreateApprovalRequest(ctx context.Context, req *approval.Request) error

	// GetApprovalRequest loads an approval request by id.
	GetApprovalRequest(ctx context.Context, id string) (*approval.Request, error)

	// UpdateApprovalRequest overwrites an approval request's decision
	// fields.
	UpdateApprovalRequest(ctx context.Context, req *approval.Request) error
}

// BlobStore stores screenshot bytes at deterministic paths. Put failures
// are tolerated by the audit pipeline: evidence capture is best-effort.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
