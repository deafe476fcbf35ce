package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSources() SourceSet {
	return SourceSet{
		Content:   []string{"src", "content", "messages", "public"},
		Config:    []string{"package.json", "next.config.js", "tsconfig.json"},
		Artifacts: []string{".next", "reports"},
	}
}

func TestCollector_Collect(t *testing.T) {
	project := newSiteProject(t)
	staging := t.TempDir()

	collector := NewCollector(project, defaultSources(), nil)
	stats, err := collector.Collect(context.Background(), staging)
	require.NoError(t, err)

	assert.Equal(t, "export default function Home() {}", readFile(t, filepath.Join(staging, "content/src/pages/index.tsx")))
	assert.Equal(t, "# Hello", readFile(t, filepath.Join(staging, "content/content/posts/hello.md")))
	assert.FileExists(t, filepath.Join(staging, "content/public/favicon.ico"))
	assert.FileExists(t, filepath.Join(staging, "config/package.json"))
	assert.FileExists(t, filepath.Join(staging, "config/next.config.js"))
	assert.Equal(t, "build-1", readFile(t, filepath.Join(staging, "artifacts/.next/BUILD_ID")))

	assert.Equal(t, 8, stats.FilesCopied)
	assert.ElementsMatch(t, []string{"content/messages", "config/tsconfig.json", "artifacts/reports"}, stats.Skipped)
}

func TestCollector_PreservesModTime(t *testing.T) {
	project := newSiteProject(t)
	staging := t.TempDir()

	src := filepath.Join(project, "package.json")
	srcInfo, err := os.Stat(src)
	require.NoError(t, err)

	_, err = NewCollector(project, SourceSet{Config: []string{"package.json"}}, nil).Collect(context.Background(), staging)
	require.NoError(t, err)

	dstInfo, err := os.Stat(filepath.Join(staging, "config/package.json"))
	require.NoError(t, err)
	assert.True(t, srcInfo.ModTime().Equal(dstInfo.ModTime()))
}

func TestCollector_AllSourcesMissing(t *testing.T) {
	staging := t.TempDir()

	stats, err := NewCollector(t.TempDir(), defaultSources(), nil).Collect(context.Background(), staging)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesCopied)
	assert.Len(t, stats.Skipped, 9)
}

func TestCollector_RejectsEscapingSource(t *testing.T) {
	project := newSiteProject(t)

	_, err := NewCollector(project, SourceSet{Content: []string{"../outside"}}, nil).Collect(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeConfiguration))
}

func TestCollector_FilesystemFailureIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	project := newSiteProject(t)
	locked := filepath.Join(project, "src", "pages")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	staging := t.TempDir()
	_, err := NewCollector(project, defaultSources(), nil).Collect(context.Background(), staging)
	require.Error(t, err)
	assert.True(t, IsType(err, BackupErrorTypeFilesystem))
	assert.DirExists(t, staging)
}

func TestCollector_Cancelled(t *testing.T) {
	project := newSiteProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(project, defaultSources(), nil).Collect(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContainedPath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "site")

	tests := []struct {
		rel string
		ok  bool
	}{
		{"src", true},
		{"content/posts", true},
		{"a/../b", true},
		{"..", false},
		{"../etc", false},
		{"a/../../etc", false},
		{"/etc/passwd", false},
		{"", false},
		{"..hidden", true},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			_, ok := ContainedPath(root, tt.rel)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
