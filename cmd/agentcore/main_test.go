package main

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corteximus/agentcore/pkg/agenterr"
)

func TestExitCodeFor_StructuredKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{agenterr.New(agenterr.KindCancelled, agenterr.ReasonCancelled, "cancelled"), exitCancelled},
		{agenterr.New(agenterr.KindNonRetryable, agenterr.ReasonSchemaViolation, "bad schema"), exitUserError},
		{agenterr.New(agenterr.KindFatal, agenterr.ReasonStoreIO, "disk is gone"), exitInternalErr},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, exitCodeFor(c.err))
	}
}

func TestExitCodeFor_WrappedSentinels(t *testing.T) {
	assert.Equal(t, exitUserError, exitCodeFor(fmt.Errorf("%w: bad yaml", errBadConfig)))
	assert.Equal(t, exitUserError, exitCodeFor(fmt.Errorf("%w: task %q", errUnknownID, "t1")))
}

func TestExitCodeFor_UnstructuredError(t *testing.T) {
	assert.Equal(t, exitInternalErr, exitCodeFor(fmt.Errorf("something broke")))
}

func TestLoadConfig_MissingFileWrapsAsBadConfig(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errBadConfig)
}

func TestBuildObservability_DisabledByDefault(t *testing.T) {
	cli := &CLI{}
	assert.Nil(t, buildObservability(cli))
}

func TestBuildObservability_EnabledWithNamespace(t *testing.T) {
	cli := &CLI{MetricsNamespace: "agentcore_test"}
	cfg := buildObservability(cli)
	if assert.NotNil(t, cfg) {
		assert.Equal(t, "agentcore_test", cfg.MetricsNamespace)
	}
}
