package recovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractionRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), testSnapshot)
	for rel, content := range siteFiles() {
		writeFile(t, root, rel, content)
	}
	return root
}

func TestRestorer_RestoreFiles(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, ".next/BUILD_ID", "live-build")
	writeFile(t, project, "src/pages/index.tsx", "old home")
	writeFile(t, project, "src/keep.tsx", "untouched")

	restorer := NewRestorer(RestoreOptions{ProjectRoot: project, BuildOutput: ".next"}, nil)
	result := &RestoreResult{}
	require.NoError(t, restorer.RestoreFiles(context.Background(), extractionRoot(t), result))

	assert.Equal(t, "restored home", readFile(t, filepath.Join(project, "src/pages/index.tsx")))
	assert.Equal(t, "User-agent: *", readFile(t, filepath.Join(project, "public/robots.txt")))
	assert.Equal(t, "untouched", readFile(t, filepath.Join(project, "src/keep.tsx")))
	assert.Equal(t, `{"score":0.98}`, readFile(t, filepath.Join(project, "reports/lhci.json")))

	// build output is never restored
	assert.Equal(t, "live-build", readFile(t, filepath.Join(project, ".next/BUILD_ID")))
	assert.NoFileExists(t, filepath.Join(project, ".next/static/a.js"))
	assert.True(t, result.ExcludedBuildOutput)

	assert.Equal(t, 2, result.ContentFiles)
	assert.Equal(t, 1, result.ArtifactFiles)

	// config is a separate phase
	assert.NoFileExists(t, filepath.Join(project, ".env"))
}

func TestRestorer_BuildOutputAbsentFromLiveProject(t *testing.T) {
	project := t.TempDir()

	restorer := NewRestorer(RestoreOptions{ProjectRoot: project, BuildOutput: "./.next/"}, nil)
	require.NoError(t, restorer.RestoreFiles(context.Background(), extractionRoot(t), &RestoreResult{}))

	assert.NoDirExists(t, filepath.Join(project, ".next"))
}

func TestRestorer_RestoreConfig(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, ".env", "API_URL=https://old.example")

	restorer := NewRestorer(RestoreOptions{ProjectRoot: project, BackupSuffix: ".backup"}, nil)
	result := &RestoreResult{}
	require.NoError(t, restorer.RestoreConfig(context.Background(), extractionRoot(t), result))

	assert.Equal(t, "API_URL=https://restored.example", readFile(t, filepath.Join(project, ".env")))
	assert.Equal(t, "API_URL=https://old.example", readFile(t, filepath.Join(project, ".env.backup")))

	// no live package.json existed, so nothing to preserve
	assert.Equal(t, `{"name":"site","version":"2.0.0"}`, readFile(t, filepath.Join(project, "package.json")))
	assert.NoFileExists(t, filepath.Join(project, "package.json.backup"))

	assert.Equal(t, 2, result.ConfigFiles)
	assert.Equal(t, []string{".env.backup"}, result.ConfigBackups)
}

func TestRestorer_RestoreConfig_OverwritesPreviousBackup(t *testing.T) {
	project := t.TempDir()
	writeFile(t, project, ".env", "second")
	writeFile(t, project, ".env.backup", "first")

	restorer := NewRestorer(RestoreOptions{ProjectRoot: project}, nil)
	require.NoError(t, restorer.RestoreConfig(context.Background(), extractionRoot(t), &RestoreResult{}))

	assert.Equal(t, "second", readFile(t, filepath.Join(project, ".env.backup")))
}

func TestRestorer_RestoreConfig_OverDirectory(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".env"), 0755))

	err := NewRestorer(RestoreOptions{ProjectRoot: project}, nil).
		RestoreConfig(context.Background(), extractionRoot(t), &RestoreResult{})
	assert.Error(t, err)
}

func TestRestorer_EmptyExtraction(t *testing.T) {
	project := t.TempDir()
	root := t.TempDir()

	restorer := NewRestorer(RestoreOptions{ProjectRoot: project, BuildOutput: ".next"}, nil)
	result := &RestoreResult{}
	require.NoError(t, restorer.RestoreFiles(context.Background(), root, result))
	require.NoError(t, restorer.RestoreConfig(context.Background(), root, result))
	assert.Zero(t, result.ContentFiles+result.ArtifactFiles+result.ConfigFiles)
}
