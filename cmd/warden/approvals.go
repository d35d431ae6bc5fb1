package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/warden/pkg/approval"
	"github.com/entrhq/warden/pkg/session"
)

// approve/deny stand in for the external approval subsystem so an operator
// can resolve requests straight from the CLI. The session engine itself
// only ever creates requests and reads their decisions.

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], approval.DecisionApproved)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "Deny a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], approval.DecisionDenied)
	},
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
}

func decide(cmd *cobra.Command, requestID string, decision approval.Decision) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	req, err := a.store.GetApprovalRequest(cmd.Context(), requestID)
	if err != nil {
		return fmt.Errorf("approval request %s: %w", requestID, err)
	}
	if req.Decision != approval.DecisionPending {
		return fmt.Errorf("approval request %s is already %s", requestID, req.Decision)
	}

	req.Resolve(decision)
	if err := a.store.UpdateApprovalRequest(cmd.Context(), req); err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	fmt.Printf("request %s %s (session %s, action %d)\n", req.ID, req.Decision, req.SessionID, req.ActionIndex)
	if decision == approval.DecisionApproved {
		fmt.Printf("resume with: warden resume %s\n", req.SessionID)
	}
	return nil
}

func listSessions(cmd *cobra.Command, a *app, status string) error {
	sessions, err := a.store.ListSessionsByStatus(cmd.Context(), session.Status(status))
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("no sessions with status %s\n", status)
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("%s  tenant=%s  risk=%s  pause=%s  %s\n",
			s.ID, s.TenantID, s.Risk, formatIndex(s.PauseIndex), s.StatusReason)
	}
	return nil
}
