package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30*time.Minute, cfg.CooperativeWindow)
	assert.Equal(t, DefaultProtectedSteps, cfg.ProtectedSteps)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 3*time.Second, cfg.LockWait)
	assert.Equal(t, 5*time.Second, cfg.HumanRecheckGrace)
	assert.Equal(t, "nats", cfg.Orchestrator)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COOPERATIVE_WINDOW", "45m")
	t.Setenv("PROTECTED_STEPS", "step_a, step_b")
	t.Setenv("PAGE_IDS", "P1,P2")

	cfg := Load()

	assert.Equal(t, 45*time.Minute, cfg.CooperativeWindow)
	assert.Equal(t, []string{"step_a", "step_b"}, cfg.ProtectedSteps)
	assert.Equal(t, []string{"P1", "P2"}, cfg.PageIDs)
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg := Load()
	require.Error(t, cfg.Validate())

	t.Setenv("APP_SECRET", "s3cret")
	t.Setenv("VERIFY_TOKEN", "tok")
	t.Setenv("PAGE_IDS", "P1")

	assert.NoError(t, Load().Validate())
}
