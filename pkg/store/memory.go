package store

import (
	"context"
	"sort"
	"sync"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/session"
)

// MemoryStore is an in-memory SessionStore used in tests and for running
// the engine without a database file. All records are copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*session.BrowserSession
	actions   map[string][]session.ActionRecord
	approvals map[string]*approval.Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*session.BrowserSession),
		actions:   make(map[string][]session.ActionRecord),
		approvals: make(map[string]*approval.Request),
	}
}

// CreateSession inserts a new session record.
func (m *MemoryStore) CreateSession(ctx context.Context, s *session.BrowserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

// UpdateSession overwrites an existing session record.
func (m *MemoryStore) UpdateSession(ctx context.Context, s *session.BrowserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	copied := *s
	m.sessions[s.ID] = &copied
	return nil
}

// GetSession loads a session by id.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*session.BrowserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

// ListSessionsByStatus returns all sessions in the given status.
func (m *MemoryStore) ListSessionsByStatus(ctx context.Context, status session.Status) ([]*session.BrowserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*session.BrowserSession
	for _, s := range m.sessions {
		if s.Status == status {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendAction appends one action record.
func (m *MemoryStore) AppendAction(ctx context.Context, rec *session.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[rec.SessionID] = append(m.actions[rec.SessionID], *rec)
	return nil
}

// ListActions returns a session's action records ordered by sequence.
func (m *MemoryStore) ListActions(ctx context.Context, sessionID string) ([]session.ActionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := append([]session.ActionRecord{}, m.actions[sessionID]...)
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return records, nil
}

// CreateApprovalRequest inserts a new approval request.
func (m *MemoryStore) CreateApprovalRequest(ctx context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *req
	m.approvals[req.ID] = &copied
	return nil
}

// GetApprovalRequest loads an approval request by id.
func (m *MemoryStore) GetApprovalRequest(ctx context.Context, id string) (*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *req
	return &copied, nil
}

// UpdateApprovalRequest overwrites an approval request.
func (m *MemoryStore) UpdateApprovalRequest(ctx context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[req.ID]; !ok {
		return ErrNotFound
	}
	copied := *req
	m.approvals[req.ID] = &copied
	return nil
}
