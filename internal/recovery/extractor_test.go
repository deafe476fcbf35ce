package recovery

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"sitekeeper/internal/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	archive := buildArchive(t, siteFiles(), backup.CompressionTypeGzip, nil)
	parent := t.TempDir()

	ws, err := NewExtractor(parent, nil).Extract(context.Background(), archive)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Remove() })

	assert.Equal(t, parent, filepath.Dir(ws.Dir))
	assert.Regexp(t, `^recovery-`, filepath.Base(ws.Dir))
	assert.Equal(t, filepath.Join(ws.Dir, testSnapshot), ws.Root)

	// round trip: every staged file comes back byte for byte
	for rel, content := range siteFiles() {
		assert.Equal(t, content, readFile(t, filepath.Join(ws.Root, filepath.FromSlash(rel))), rel)
	}
	require.NotNil(t, ws.Manifest)
	assert.Len(t, ws.Manifest.Checksums, len(siteFiles()))

	require.NoError(t, ws.Remove())
	assert.NoDirExists(t, ws.Dir)
}

func TestExtractor_SystemTempDir(t *testing.T) {
	archive := buildArchive(t, siteFiles(), backup.CompressionTypeLZ4, nil)

	ws, err := NewExtractor("", nil).Extract(context.Background(), archive)
	require.NoError(t, err)
	defer ws.Remove()

	assert.Equal(t, filepath.Clean(os.TempDir()), filepath.Dir(ws.Dir))
}

func TestExtractor_RejectsUnsafeEntries(t *testing.T) {
	archive := buildRawArchive(t, []rawEntry{
		{name: "snap/manifest.json", typeflag: tar.TypeReg, body: `{"checksums":{}}`},
		{name: "snap/../../escape.txt", typeflag: tar.TypeReg, body: "x"},
	})
	parent := t.TempDir()

	ws, err := NewExtractor(parent, nil).Extract(context.Background(), archive)
	require.Error(t, err)
	assert.True(t, backup.IsType(err, backup.BackupErrorTypeInvalidContainer))
	require.NotNil(t, ws)
	defer ws.Remove()
	assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
}

func TestExtractor_MissingManifest(t *testing.T) {
	archive := buildRawArchive(t, []rawEntry{
		{name: "snap/", typeflag: tar.TypeDir},
		{name: "snap/content/a.txt", typeflag: tar.TypeReg, body: "a"},
	})

	ws, err := NewExtractor(t.TempDir(), nil).Extract(context.Background(), archive)
	require.Error(t, err)
	defer ws.Remove()
	assert.True(t, backup.IsType(err, backup.BackupErrorTypeInvalidContainer))
}
