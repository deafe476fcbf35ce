package recovery

import (
	"context"
	"testing"
	"time"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/execution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuilder_RunsInstallThenBuild(t *testing.T) {
	runner := execution.NewFakeRunner()
	project := t.TempDir()

	rebuilder := NewRebuilder(RebuildOptions{
		Install:        []string{"npm", "install"},
		Build:          []string{"npm", "run", "build"},
		InstallTimeout: time.Minute,
		BuildTimeout:   2 * time.Minute,
	}, project, runner, nil)
	require.NoError(t, rebuilder.Rebuild(context.Background()))

	assert.Equal(t, []string{"npm install", "npm run build"}, runner.CommandLines())
	calls := runner.Calls()
	for _, call := range calls {
		assert.Equal(t, project, call.Dir)
		assert.True(t, call.Stream)
	}
	assert.Equal(t, time.Minute, calls[0].Timeout)
	assert.Equal(t, 2*time.Minute, calls[1].Timeout)
}

func TestRebuilder_InstallFailureStops(t *testing.T) {
	runner := execution.NewFakeRunner().On("npm install", execution.FakeResponse{
		Result: execution.Result{ExitCode: 1, Stderr: "npm ERR! network"},
	})

	err := NewRebuilder(RebuildOptions{
		Install: []string{"npm", "install"},
		Build:   []string{"npm", "run", "build"},
	}, t.TempDir(), runner, nil).Rebuild(context.Background())
	require.Error(t, err)
	assert.True(t, backup.IsType(err, backup.BackupErrorTypeSubprocess))
	assert.Contains(t, err.Error(), "Rebuild install failed")
	assert.Equal(t, []string{"npm install"}, runner.CommandLines())
}

func TestRebuilder_EmptyStepsSkipped(t *testing.T) {
	runner := execution.NewFakeRunner()

	require.NoError(t, NewRebuilder(RebuildOptions{Build: []string{"make"}}, t.TempDir(), runner, nil).Rebuild(context.Background()))
	assert.Equal(t, []string{"make"}, runner.CommandLines())
}
