package runner

import (
	"context"
	"fmt"

	"github.com/entrhq/warden/pkg/session"
)

// ReconcileOnStart repairs the gap between the in-memory concurrency table
// and persisted ground truth after a process restart.
//
// Sessions persisted as running have no live engine in a fresh process:
// they are orphans and are marked failed with a recovery reason. The
// governor's counters are then rebuilt from whatever genuinely remains in
// flight, so a crash between acquire and start can never permanently leak
// a slot. Must run before the runner accepts new work.
func (r *Runner) ReconcileOnStart(ctx context.Context) (int, error) {
	running, err := r.store.ListSessionsByStatus(ctx, session.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to scan running sessions: %w", err)
	}

	recovered := 0
	counts := make(map[string]int)
	for _, sess := range running {
		r.failSession(ctx, sess, "session orphaned by process restart")
		recovered++
		r.log.Warnf("session %s orphaned by restart, marked failed", sess.ID)
	}
	r.governor.Reconcile(counts)

	if recovered > 0 {
		r.log.Infof("reconciled %d orphaned session(s) on startup", recovered)
	}
	return recovered, nil
}
