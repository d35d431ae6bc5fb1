// Package audit captures the evidence trail of a session: a screenshot and
// a sanitized DOM snapshot after every executed action.
//
// Capture is best-effort. A failed screenshot upload or snapshot degrades
// the evidence for that one action and emits a warning, but never affects
// the session's correctness or its action sequence.
package audit

import (
	"context"
	"fmt"

	"github.com/entrhq/warden/pkg/engine"
	"github.com/entrhq/warden/pkg/logging"
	"github.com/entrhq/warden/pkg/session"
	"github.com/entrhq/warden/pkg/store"
)

// Evidence is what was captured for one action.
type Evidence struct {
	// ScreenshotRef is the object-store path of the uploaded screenshot,
	// empty when capture or upload failed.
	ScreenshotRef string

	// DOMSnapshot is the sanitized page HTML, empty when capture failed.
	DOMSnapshot string
}

// Recorder captures and persists per-action evidence.
type Recorder struct {
	blobs       store.BlobStore
	log         *logging.Logger
	snapshotCap int
}

// NewRecorder creates a Recorder. A non-positive snapshotCap uses the
// default.
func NewRecorder(blobs store.BlobStore, log *logging.Logger, snapshotCap int) *Recorder {
	if snapshotCap <= 0 {
		snapshotCap = DefaultSnapshotCap
	}
	return &Recorder{
		blobs:       blobs,
		log:         log,
		snapshotCap: snapshotCap,
	}
}

// BlobPath returns the deterministic object-store path for one action's
// screenshot.
func BlobPath(tenantID, sessionID string, sequence int, actionType session.ActionType) string {
	return fmt.Sprintf("tenants/%s/sessions/%s/%03d-%s.png", tenantID, sessionID, sequence, actionType)
}

// Capture takes a screenshot and DOM snapshot of the page and uploads the
// screenshot. Both halves tolerate failure independently: the returned
// Evidence has empty fields for whatever could not be captured, and each
// failure is logged as a warning.
func (r *Recorder) Capture(ctx context.Context, page engine.Page, tenantID, sessionID string, sequence int, actionType session.ActionType) Evidence {
	var ev Evidence

	shot, err := page.Screenshot(ctx)
	if err != nil {
		r.log.Warnf("screenshot capture failed for session %s action %d: %v", sessionID, sequence, err)
	} else {
		path := BlobPath(tenantID, sessionID, sequence, actionType)
		if err := r.blobs.Put(ctx, path, shot, "image/png"); err != nil {
			r.log.Warnf("screenshot upload failed for session %s action %d: %v", sessionID, sequence, err)
		} else {
			ev.ScreenshotRef = path
		}
	}

	raw, err := page.DOMSnapshot(ctx)
	if err != nil {
		r.log.Warnf("dom snapshot failed for session %s action %d: %v", sessionID, sequence, err)
		return ev
	}
	sanitized, err := SanitizeDOM(raw, r.snapshotCap)
	if err != nil {
		r.log.Warnf("dom sanitize failed for session %s action %d: %v", sessionID, sequence, err)
		return ev
	}
	ev.DOMSnapshot = sanitized
	return ev
}
