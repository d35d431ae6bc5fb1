package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/warden/pkg/config"
	"github.com/entrhq/warden/pkg/session"
)

var planFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a browser session from a plan file",
	Long: `Run validates the plan against governance policy and executes it as a
new session. The command prints the session result: completed, failed with
a reason, or paused awaiting approval of a high-risk action.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if planFile == "" {
			return fmt.Errorf("--plan is required")
		}

		plan, err := config.LoadPlan(planFile)
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.runner.ExecuteSession(cmd.Context(), plan)
		if result != nil {
			printResult(result)
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&planFile, "plan", "", "YAML session plan file")
	rootCmd.AddCommand(runCmd)
}

// printResult writes the session result as indented JSON, with bulky
// per-action DOM snapshots elided for the terminal.
func printResult(result *session.Result) {
	display := *result
	display.Actions = make([]session.ActionRecord, len(result.Actions))
	for i, rec := range result.Actions {
		rec.DOMSnapshot = ""
		display.Actions[i] = rec
	}

	out, err := json.MarshalIndent(display, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render result: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
