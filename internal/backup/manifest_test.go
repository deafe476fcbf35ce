package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sitekeeper/internal/execution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagedTree(t *testing.T) string {
	t.Helper()
	staging := t.TempDir()
	writeFile(t, staging, "content/src/index.tsx", "home")
	writeFile(t, staging, "content/public/robots.txt", "User-agent: *")
	writeFile(t, staging, "config/package.json", `{"version":"2.0.0"}`)
	writeFile(t, staging, "artifacts/.next/BUILD_ID", "b1")
	require.NoError(t, os.MkdirAll(filepath.Join(staging, "artifacts/reports"), 0755))
	return staging
}

func gitRunner(commit, branch string) *execution.FakeRunner {
	return execution.NewFakeRunner().
		On("git rev-parse HEAD", execution.FakeResponse{Result: execution.Result{Stdout: commit + "\n"}}).
		On("git rev-parse --abbrev-ref HEAD", execution.FakeResponse{Result: execution.Result{Stdout: branch + "\n"}})
}

func TestManifestBuilder_Build(t *testing.T) {
	project := newSiteProject(t)
	staging := stagedTree(t)
	t.Setenv("NODE_ENV", "production")

	runner := gitRunner("abc123", "main")
	builder := NewManifestBuilder(MetadataOptions{
		ProjectRoot:        project,
		MetadataFile:       "package.json",
		EnvironmentVar:     "NODE_ENV",
		DefaultEnvironment: "development",
	}, runner, nil)

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	manifest, err := builder.Build(context.Background(), staging, ts)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-15T10:30:00.000Z", manifest.Timestamp)
	assert.Equal(t, "1.4.2", manifest.Version)
	assert.Equal(t, "abc123", manifest.GitCommit)
	assert.Equal(t, "main", manifest.GitBranch)
	assert.Equal(t, "production", manifest.Environment)

	require.Len(t, manifest.Files, 4)
	require.NoError(t, manifest.CheckConsistency())
	assert.Equal(t, CalculateChecksum([]byte("home")), manifest.Checksums["content/src/index.tsx"])
	assert.Equal(t, int64(len("home")+len("User-agent: *")+len(`{"version":"2.0.0"}`)+len("b1")), manifest.Size)

	for _, f := range manifest.Files {
		assert.False(t, strings.Contains(f.Path, `\`), "paths are slash separated")
	}

	calls := runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, project, calls[0].Dir)
}

func TestManifestBuilder_ExcludesManifestItself(t *testing.T) {
	staging := stagedTree(t)
	builder := NewManifestBuilder(MetadataOptions{}, execution.NewFakeRunner(), nil)

	first, err := builder.Build(context.Background(), staging, time.Now())
	require.NoError(t, err)
	require.NoError(t, WriteManifest(staging, first))

	second, err := builder.Build(context.Background(), staging, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, second.Checksums, ManifestFileName)
	assert.Equal(t, first.Checksums, second.Checksums)

	// a nested file with the same name is still recorded
	writeFile(t, staging, "content/manifest.json", "{}")
	third, err := builder.Build(context.Background(), staging, time.Now())
	require.NoError(t, err)
	assert.Contains(t, third.Checksums, "content/manifest.json")
}

func TestManifestBuilder_VCSFallbacks(t *testing.T) {
	staging := stagedTree(t)
	failing := execution.NewFakeRunner().On("git", execution.FakeResponse{Err: errors.New("not a git repository")})

	t.Run("platform environment", func(t *testing.T) {
		t.Setenv("VERCEL_GIT_COMMIT_SHA", "deadbeef")
		t.Setenv("VERCEL_GIT_COMMIT_REF", "release")

		builder := NewManifestBuilder(MetadataOptions{
			CommitEnv: []string{"VERCEL_GIT_COMMIT_SHA"},
			BranchEnv: []string{"VERCEL_GIT_COMMIT_REF"},
		}, failing, nil)
		manifest, err := builder.Build(context.Background(), staging, time.Now())
		require.NoError(t, err)
		assert.Equal(t, "deadbeef", manifest.GitCommit)
		assert.Equal(t, "release", manifest.GitBranch)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Setenv("VERCEL_GIT_COMMIT_SHA", "")

		builder := NewManifestBuilder(MetadataOptions{
			CommitEnv: []string{"VERCEL_GIT_COMMIT_SHA"},
		}, failing, nil)
		manifest, err := builder.Build(context.Background(), staging, time.Now())
		require.NoError(t, err)
		assert.Equal(t, UnknownValue, manifest.GitCommit)
		assert.Equal(t, UnknownValue, manifest.GitBranch)
		assert.Equal(t, UnknownValue, manifest.Version)
		assert.Equal(t, UnknownValue, manifest.Environment)
	})

	t.Run("empty output", func(t *testing.T) {
		empty := execution.NewFakeRunner()
		manifest, err := NewManifestBuilder(MetadataOptions{}, empty, nil).Build(context.Background(), staging, time.Now())
		require.NoError(t, err)
		assert.Equal(t, UnknownValue, manifest.GitCommit)
	})
}

func TestManifestBuilder_DefaultEnvironment(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	builder := NewManifestBuilder(MetadataOptions{
		EnvironmentVar:     "NODE_ENV",
		DefaultEnvironment: "development",
	}, execution.NewFakeRunner(), nil)

	manifest, err := builder.Build(context.Background(), stagedTree(t), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "development", manifest.Environment)
}

func TestManifest_WriteAndLoad(t *testing.T) {
	staging := stagedTree(t)
	manifest, err := NewManifestBuilder(MetadataOptions{}, nil, nil).Build(context.Background(), staging, time.Now())
	require.NoError(t, err)
	require.NoError(t, WriteManifest(staging, manifest))

	loaded, err := LoadManifest(filepath.Join(staging, ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, manifest.Checksums, loaded.Checksums)
	assert.Equal(t, manifest.Size, loaded.Size)

	_, err = LoadManifest(filepath.Join(t.TempDir(), ManifestFileName))
	assert.True(t, IsType(err, BackupErrorTypeInvalidContainer))

	_, err = ReadManifest(strings.NewReader("not json"))
	assert.True(t, IsType(err, BackupErrorTypeInvalidContainer))
}
