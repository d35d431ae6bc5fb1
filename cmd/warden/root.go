package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/entrhq/warden/pkg/audit"
	"github.com/entrhq/warden/pkg/config"
	"github.com/entrhq/warden/pkg/engine"
	"github.com/entrhq/warden/pkg/governor"
	"github.com/entrhq/warden/pkg/logging"
	"github.com/entrhq/warden/pkg/policy"
	"github.com/entrhq/warden/pkg/runner"
	"github.com/entrhq/warden/pkg/store"
)

var cfgFile string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - governed browser-automation sessions",
	Long: `Warden runs agent-requested browser sessions under a hard policy
envelope: per-action risk classification, human approval for sensitive
actions, per-tenant concurrency limits, a hard session time limit, and a
screenshot + DOM audit trail of every step.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.warden/config.yaml)")
}

// app bundles the wired collaborators behind one setup path.
type app struct {
	cfg    *config.Config
	store  *store.SQLiteStore
	runner *runner.Runner
	log    *logging.Logger
}

// newApp wires the full engine: config, store, policy, governor, audit,
// playwright, and the runner. ReconcileOnStart runs before any command so
// orphaned sessions from a crashed process are repaired first.
func newApp(cmd *cobra.Command) (*app, error) {
	path := cfgFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home + "/.warden/config.yaml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := logging.NewLogger("warden")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
	}

	sessionStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	blobs, err := store.NewDiskBlobStore(cfg.BlobRoot)
	if err != nil {
		sessionStore.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	pol, err := policy.New(policy.Options{
		MaxActions:     cfg.MaxActions,
		MaxValueLength: cfg.MaxValueLength,
		BlockedDomains: cfg.BlockedDomains,
	})
	if err != nil {
		sessionStore.Close()
		return nil, fmt.Errorf("invalid policy configuration: %w", err)
	}

	eng := engine.NewPlaywrightEngine(engine.PlaywrightOptions{
		Headless:    *cfg.Headless,
		CallTimeout: cfg.CallTimeout.Std(),
	})
	gov := governor.New(cfg.ConcurrencyCeiling)
	recorder := audit.NewRecorder(blobs, log, cfg.SnapshotCap)

	run := runner.New(sessionStore, eng, pol, gov, recorder, log, runner.Options{
		SessionTimeout: cfg.SessionTimeout.Std(),
		ExtractCap:     cfg.ExtractCap,
	})

	if _, err := run.ReconcileOnStart(cmd.Context()); err != nil {
		sessionStore.Close()
		return nil, fmt.Errorf("startup reconciliation failed: %w", err)
	}

	return &app{cfg: cfg, store: sessionStore, runner: run, log: log}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Close()
}
