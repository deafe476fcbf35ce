package recovery

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sitekeeper/internal/backup"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

const testSnapshot = "2024-01-15T10-30-00-000Z"

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// buildArchive stages files (paths relative to the staging root, e.g.
// "content/src/a.txt"), writes a manifest, lets tamper adjust it and packs
// everything with the given codec
func buildArchive(t *testing.T, files map[string]string, compression backup.CompressionType, tamper func(*backup.Manifest)) string {
	t.Helper()
	dir := t.TempDir()
	staging := filepath.Join(dir, testSnapshot)
	require.NoError(t, os.Mkdir(staging, 0755))
	for rel, content := range files {
		writeFile(t, staging, rel, content)
	}

	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	manifest, err := backup.NewManifestBuilder(backup.MetadataOptions{}, nil, nil).Build(context.Background(), staging, ts)
	require.NoError(t, err)
	if tamper != nil {
		tamper(manifest)
	}
	require.NoError(t, backup.WriteManifest(staging, manifest))

	archiver := backup.NewArchiver(backup.ArchiveOptions{Compression: compression}, nil, nil)
	archivePath := filepath.Join(dir, archiver.ArchiveName(testSnapshot))
	_, err = archiver.Archive(context.Background(), staging, archivePath)
	require.NoError(t, err)
	return archivePath
}

type rawEntry struct {
	name     string
	typeflag byte
	body     string
	linkname string
}

// buildRawArchive writes a gzip tar with exactly the given entries
func buildRawArchive(t *testing.T, entries []rawEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup-raw.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		header := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     0644,
			Size:     int64(len(e.body)),
			Linkname: e.linkname,
			ModTime:  time.Now(),
		}
		if e.typeflag != tar.TypeReg {
			header.Size = 0
		}
		if e.typeflag == tar.TypeDir {
			header.Mode = 0755
		}
		require.NoError(t, tw.WriteHeader(header))
		if e.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

// siteFiles is a typical staged snapshot
func siteFiles() map[string]string {
	return map[string]string{
		"content/src/pages/index.tsx": "restored home",
		"content/public/robots.txt":   "User-agent: *",
		"config/package.json":         `{"name":"site","version":"2.0.0"}`,
		"config/.env":                 "API_URL=https://restored.example",
		"artifacts/.next/BUILD_ID":    "stale-build",
		"artifacts/.next/static/a.js": "stale",
		"artifacts/reports/lhci.json": `{"score":0.98}`,
	}
}
