package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnvVars_Braced(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", expandEnvVars("${AGENTCORE_TEST_MODEL}"))
}

func TestExpandEnvVars_Simple(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", expandEnvVars("$AGENTCORE_TEST_MODEL"))
}

func TestExpandEnvVars_WithDefault(t *testing.T) {
	assert.Equal(t, "fallback", expandEnvVars("${AGENTCORE_TEST_UNSET:-fallback}"))
}

func TestExpandEnvVars_WithDefault_EnvWins(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_MODEL", "gpt-4o-mini")
	assert.Equal(t, "gpt-4o-mini", expandEnvVars("${AGENTCORE_TEST_MODEL:-fallback}"))
}

func TestExpandEnvVars_NoDollarSignIsUnchanged(t *testing.T) {
	assert.Equal(t, "plain value", expandEnvVars("plain value"))
}

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	assert.Equal(t, "sk-test", GetProviderAPIKey("openai"))
	assert.Equal(t, "", GetProviderAPIKey("unknown-provider"))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("false"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, "not-a-number", parseValue("not-a-number"))
}
