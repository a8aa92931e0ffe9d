package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Executions.StaleAfter)
	assert.Equal(t, time.Minute, cfg.Executions.SweepInterval)
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.Addr)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.False(t, cfg.Legacy.DeleteAfterImport)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
executions:
  stale_after: 90s
legacy:
  delete_after_import: true
webhooks:
  - url: https://example.test/hook
    events: [task.structuring_complete]
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Executions.StaleAfter)
	assert.Equal(t, time.Minute, cfg.Executions.SweepInterval, "unset keys keep defaults")
	assert.True(t, cfg.Legacy.DeleteAfterImport)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"task.structuring_complete"}, cfg.Webhooks[0].Events)
}

func TestValidateCollectsErrors(t *testing.T) {
	_, err := FromYAML([]byte(`
executions:
  stale_after: 0s
server:
  base_path: v0
log:
  level: loud
webhooks:
  - url: ftp://nope
`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "stale_after must be positive")
	assert.Contains(t, msg, "base_path")
	assert.Contains(t, msg, "log.level")
	assert.Contains(t, msg, "webhooks[0].url")
}

func TestInvalidYAML(t *testing.T) {
	_, err := FromYAML([]byte("executions: ["))
	require.ErrorContains(t, err, "invalid config yaml")
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "workopilot.yml"), []byte("log:\n  level: debug\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
