package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/session"
)

// SQLiteStore implements SessionStore on a local SQLite database.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS browser_sessions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		intent_id TEXT,
		target_url TEXT NOT NULL,
		purpose TEXT,
		plan TEXT NOT NULL,
		status TEXT NOT NULL,
		risk TEXT NOT NULL,
		pause_index INTEGER,
		approval_request_id TEXT,
		status_reason TEXT,
		extracted_data TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON browser_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON browser_sessions(tenant_id);

	CREATE TABLE IF NOT EXISTS browser_actions (
		session_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		type TEXT NOT NULL,
		target TEXT,
		value TEXT,
		risk TEXT NOT NULL,
		approved BOOLEAN NOT NULL DEFAULT 0,
		screenshot_ref TEXT,
		dom_snapshot TEXT,
		detail TEXT,
		error TEXT,
		executed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, sequence),
		FOREIGN KEY (session_id) REFERENCES browser_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		action_index INTEGER NOT NULL,
		evidence_ref TEXT,
		summary TEXT,
		decision TEXT NOT NULL,
		consumed BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		decided_at TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES browser_sessions(id) ON DELETE CASCADE
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.BrowserSession) error {
	plan, err := json.Marshal(sess.Plan)
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO browser_sessions
		(id, tenant_id, agent_id, intent_id, target_url, purpose, plan, status, risk,
		 pause_index, approval_request_id, status_reason, extracted_data,
		 created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.AgentID, sess.IntentID,
		sess.TargetURL, sess.Purpose, string(plan), string(sess.Status), string(sess.Risk),
		sess.PauseIndex, sess.ApprovalRequestID, sess.StatusReason, sess.ExtractedData,
		sess.CreatedAt, sess.StartedAt, sess.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// UpdateSession overwrites the mutable fields of a session record.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *session.BrowserSession) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE browser_sessions
		SET status = ?, risk = ?, pause_index = ?, approval_request_id = ?,
		    status_reason = ?, extracted_data = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(sess.Status), string(sess.Risk), sess.PauseIndex, sess.ApprovalRequestID,
		sess.StatusReason, sess.ExtractedData, sess.StartedAt, sess.FinishedAt,
		sess.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*session.BrowserSession, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, agent_id, intent_id, target_url, purpose, plan,
		       status, risk, pause_index, approval_request_id, status_reason,
		       extracted_data, created_at, started_at, finished_at
		FROM browser_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessionsByStatus returns all sessions in the given status.
func (s *SQLiteStore) ListSessionsByStatus(ctx context.Context, status session.Status) ([]*session.BrowserSession, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, intent_id, target_url, purpose, plan,
		       status, risk, pause_index, approval_request_id, status_reason,
		       extracted_data, created_at, started_at, finished_at
		FROM browser_sessions WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.BrowserSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.BrowserSession, error) {
	var sess session.BrowserSession
	var plan string
	var intentID, approvalID, reason, extracted sql.NullString
	var pauseIndex sql.NullInt64
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.TenantID, &sess.AgentID, &intentID,
		&sess.TargetURL, &sess.Purpose, &plan,
		&sess.Status, &sess.Risk, &pauseIndex, &approvalID, &reason,
		&extracted, &sess.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(plan), &sess.Plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	sess.IntentID = intentID.String
	sess.ApprovalRequestID = approvalID.String
	sess.StatusReason = reason.String
	sess.ExtractedData = extracted.String
	if pauseIndex.Valid {
		idx := int(pauseIndex.Int64)
		sess.PauseIndex = &idx
	}
	if startedAt.Valid {
		t := startedAt.Time
		sess.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		sess.FinishedAt = &t
	}
	return &sess, nil
}

// AppendAction appends one action record.
func (s *SQLiteStore) AppendAction(ctx context.Context, rec *session.ActionRecord) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO browser_actions
		(session_id, sequence, type, target, value, risk, approved,
		 screenshot_ref, dom_snapshot, detail, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Sequence, string(rec.Type), rec.Target, rec.Value,
		string(rec.Risk), rec.Approved, rec.ScreenshotRef, rec.DOMSnapshot,
		rec.Detail, rec.Error, rec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// ListActions returns a session's action records ordered by sequence.
func (s *SQLiteStore) ListActions(ctx context.Context, sessionID string) ([]session.ActionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT session_id, sequence, type, target, value, risk, approved,
		       screenshot_ref, dom_snapshot, detail, error, executed_at
		FROM browser_actions WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var records []session.ActionRecord
	for rows.Next() {
		var rec session.ActionRecord
		var target, value, ref, snapshot, detail, errText sql.NullString
		err := rows.Scan(&rec.SessionID, &rec.Sequence, &rec.Type, &target, &value,
			&rec.Risk, &rec.Approved, &ref, &snapshot, &detail, &errText, &rec.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		rec.Target = target.String
		rec.Value = value.String
		rec.ScreenshotRef = ref.String
		rec.DOMSnapshot = snapshot.String
		rec.Detail = detail.String
		rec.Error = errText.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateApprovalRequest inserts a new approval request.
func (s *SQLiteStore) CreateApprovalRequest(ctx context.Context, req *approval.Request) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO approval_requests
		(id, tenant_id, session_id, action_index, evidence_ref, summary,
		 decision, consumed, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.TenantID, req.SessionID, req.ActionIndex, req.EvidenceRef,
		req.Summary, string(req.Decision), req.Consumed, req.CreatedAt, req.DecidedAt)
	if err != nil {
		return fmt.Errorf("failed to insert approval request: %w", err)
	}
	return nil
}

// GetApprovalRequest loads an approval request by id.
func (s *SQLiteStore) GetApprovalRequest(ctx context.Context, id string) (*approval.Request, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, session_id, action_index, evidence_ref, summary,
		       decision, consumed, created_at, decided_at
		FROM approval_requests WHERE id = ?`, id)

	var req approval.Request
	var evidence, summary sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(&req.ID, &req.TenantID, &req.SessionID, &req.ActionIndex,
		&evidence, &summary, &req.Decision, &req.Consumed, &req.CreatedAt, &decidedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan approval request: %w", err)
	}
	req.EvidenceRef = evidence.String
	req.Summary = summary.String
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return &req, nil
}

// UpdateApprovalRequest overwrites an approval request's decision fields.
func (s *SQLiteStore) UpdateApprovalRequest(ctx context.Context, req *approval.Request) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE approval_requests
		SET decision = ?, consumed = ?, decided_at = ?
		WHERE id = ?`,
		string(req.Decision), req.Consumed, req.DecidedAt, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update approval request: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

