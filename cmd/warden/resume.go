package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Re-enter a paused session after its approval was decided",
	Long: `Resume re-enters a session that paused for approval. The session must
be in the paused_approval state and its approval request must have been
approved or denied; a denial fails the session with an explicit reason.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.runner.ResumeSession(cmd.Context(), args[0])
		if result != nil {
			printResult(result)
		}
		return err
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [status]",
	Short: "List sessions by status",
	Long: `Sessions lists persisted sessions in the given status (default
paused_approval), so operators can find work awaiting approval.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := "paused_approval"
		if len(args) == 1 {
			status = args[0]
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		return listSessions(cmd, a, status)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func formatIndex(idx *int) string {
	if idx == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *idx)
}
