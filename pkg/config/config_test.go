package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/warden/pkg/session"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.ConcurrencyCeiling)
	assert.Equal(t, DefaultSessionTimeout, cfg.SessionTimeout.Std())
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout.Std())
	assert.Equal(t, DefaultSnapshotCap, cfg.SnapshotCap)
	assert.Equal(t, DefaultExtractCap, cfg.ExtractCap)
	require.NotNil(t, cfg.Headless)
	assert.True(t, *cfg.Headless)
	assert.NotEmpty(t, cfg.DatabasePath)
	assert.NotEmpty(t, cfg.BlobRoot)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
concurrency_ceiling: 4
session_timeout: 2m
blocked_domains:
  - "*.evil.example"
headless: false
database_path: /tmp/warden-test.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.ConcurrencyCeiling)
	assert.Equal(t, 2*time.Minute, cfg.SessionTimeout.Std())
	assert.Equal(t, []string{"*.evil.example"}, cfg.BlockedDomains)
	require.NotNil(t, cfg.Headless)
	assert.False(t, *cfg.Headless)
	assert.Equal(t, "/tmp/warden-test.db", cfg.DatabasePath)

	// Unset fields still default.
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout.Std())
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
tenant_id: tenant-1
agent_id: agent-7
target_url: https://example.com
purpose: collect release notes
actions:
  - type: navigate
    target: https://example.com/releases
  - type: extract
    target: .release-notes
  - type: type
    target: "#search"
    value: v2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	plan, err := LoadPlan(path)
	require.NoError(t, err)

	assert.Equal(t, "tenant-1", plan.TenantID)
	assert.Equal(t, "agent-7", plan.AgentID)
	require.Len(t, plan.Actions, 3)
	assert.Equal(t, session.ActionNavigate, plan.Actions[0].Type)
	assert.Equal(t, ".release-notes", plan.Actions[1].Target)
	assert.Equal(t, session.ActionTypeText, plan.Actions[2].Type)
	assert.Equal(t, "v2", plan.Actions[2].Value)
}

func TestLoadPlanRejectsUnknownActionType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
tenant_id: tenant-1
agent_id: agent-7
target_url: https://example.com
actions:
  - type: hover
    target: "#menu"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	_, err := LoadPlan(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action type "hover"`)
}

func TestLoadPlanMissingFile(t *testing.T) {
	_, err := LoadPlan(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
