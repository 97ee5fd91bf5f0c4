package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	err error
}

func (r stubRunner) Run(ctx context.Context) error {
	<-ctx.Done()
	return r.err
}

func TestNewApp_LoadsFromEnvWhenNoPathGiven(t *testing.T) {
	app, err := NewApp("")
	require.NoError(t, err)
	assert.Equal(t, "detect_only", app.Cfg.Remediation.Mode)
	assert.NotNil(t, app.Logger)
}

func TestApp_RunBlocksUntilSignalOrRunnerError(t *testing.T) {
	app, err := NewApp("")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(stubRunner{}) }()

	select {
	case <-done:
		t.Fatal("Run returned before any signal or runner error")
	case <-time.After(50 * time.Millisecond):
	}

	app.Shutdown(10 * time.Millisecond)
}

func TestLoadConfig_RejectsExecuteModeWithoutArmed(t *testing.T) {
	t.Setenv("REMEDIATION_MODE", "execute_flatten")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
