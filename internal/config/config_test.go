package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synapsed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  max_steps: 5
capabilities:
  filesystem: true
  shell: true
mcp_servers:
  - name: local
    command: ./mcpserver
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Agent.MaxSteps)
	require.Equal(t, 512, cfg.Agent.MaxTokensPerStep) // default preserved
	require.True(t, cfg.Caps.Shell)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, "local", cfg.Servers[0].Name)
}

func TestValidateRejectsBadMaxSteps(t *testing.T) {
	cfg := Default()
	cfg.Agent.MaxSteps = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsServerWithoutCommand(t *testing.T) {
	cfg := Default()
	cfg.Servers = []MCPServerConfig{{Name: "x"}}
	require.Error(t, cfg.Validate())
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synapsed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  max_steps: 3\n"), 0o644))
	t.Setenv("SYNAPSED_MAX_STEPS", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Agent.MaxSteps)
}
