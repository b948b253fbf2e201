package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
agents:
  - name: writer
    system_prompt: "draft memos"
    model: "${AGENTCORE_TEST_MODEL:-gpt-4o}"
    max_iterations: 5
orchestrator:
  capacity: 10
  default_retention: 24h
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig_ExpandsEnvAndValidates(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "writer", cfg.Agents[0].Name)
	assert.Equal(t, "gpt-4o", cfg.Agents[0].Model)
	assert.Equal(t, 10, cfg.Orchestrator.Capacity)
	assert.Equal(t, "24h", cfg.Orchestrator.DefaultRetention)
}

func TestLoadConfig_EnvOverridesDefault(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "gpt-4o-mini")
	path := writeConfig(t, sampleYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Agents[0].Model)
}

func TestLoadConfig_InvalidConfigFails(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: ""
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLoader_RequiresPath(t *testing.T) {
	_, err := NewLoader(LoaderOptions{})
	assert.Error(t, err)
}
