package application

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/config"
	appErrors "sitekeeper/internal/errors"
	"sitekeeper/internal/execution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	app    *Application
	cfg    *config.Config
	runner *execution.FakeRunner
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	root   string
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/pages/index.tsx", "export default function Home() {}\n")
	writeFile(t, root, "public/robots.txt", "User-agent: *\n")
	writeFile(t, root, "package.json", `{"name":"site","version":"2.3.1"}`)
	writeFile(t, root, ".env", "API_URL=https://example.test\n")
	writeFile(t, root, ".next/BUILD_ID", "build-1")
	return root
}

func newTestApp(t *testing.T, root string, mutate func(*config.Config)) *testApp {
	t.Helper()
	cfg := config.Default()
	cfg.Project.Root = root
	cfg.Display.ColorEnabled = false
	cfg.Display.UseIcons = false
	cfg.Logging.Level = "quiet"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	runner := execution.NewFakeRunner()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	app, err := NewApplication(cfg, Options{Stdout: stdout, Stderr: stderr, Runner: runner})
	require.NoError(t, err)

	return &testApp{app: app, cfg: cfg, runner: runner, stdout: stdout, stderr: stderr, root: root}
}

func (ta *testApp) onlyArchive(t *testing.T) string {
	t.Helper()
	archives, err := backup.NewArchiveStore(ta.cfg.BackupsDir()).List(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 1)
	return archives[0].Path
}

func TestNewApplication(t *testing.T) {
	ta := newTestApp(t, t.TempDir(), nil)

	assert.NotNil(t, ta.app.GetLogger())
	assert.NotNil(t, ta.app.GetDisplay())
	assert.Equal(t, ta.root, ta.app.root)
}

func TestNewApplication_NilConfig(t *testing.T) {
	_, err := NewApplication(nil, Options{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeConfiguration, appErrors.GetErrorType(err))
}

func TestRunBackup(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	ta.runner.On("git rev-parse HEAD", execution.FakeResponse{Result: execution.Result{Stdout: "abc123\n"}})
	ta.runner.On("git rev-parse --abbrev-ref HEAD", execution.FakeResponse{Result: execution.Result{Stdout: "main\n"}})

	require.NoError(t, ta.app.RunBackup(context.Background(), ""))

	archive := ta.onlyArchive(t)
	assert.Contains(t, ta.stdout.String(), "Backup Complete")
	assert.Contains(t, ta.stdout.String(), archive)
	assert.Contains(t, ta.stdout.String(), "abc123 (main)")

	manifest, err := ta.app.newRecoveryManager().Inspect(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, "2.3.1", manifest.Version)
	assert.Contains(t, manifest.Checksums, "config/.env")
	assert.Contains(t, manifest.Checksums, "artifacts/.next/BUILD_ID")
}

func TestRunBackup_OutputDir(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	out := t.TempDir()

	require.NoError(t, ta.app.RunBackup(context.Background(), out))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^backup-.*\.tar\.gz$`, entries[0].Name())
}

func TestRunBackup_StructuredReport(t *testing.T) {
	ta := newTestApp(t, newSite(t), func(c *config.Config) {
		c.Display.OutputFormat = "json"
		c.Archive.Compression = "zstd"
	})

	require.NoError(t, ta.app.RunBackup(context.Background(), ""))

	var report backup.BackupReport
	require.NoError(t, json.Unmarshal(ta.stdout.Bytes(), &report))
	assert.Equal(t, backup.BackupPhaseDone, report.Phase)
	assert.Equal(t, 5, report.FileCount)
	assert.True(t, strings.HasSuffix(report.ArchivePath, ".tar.zst"), report.ArchivePath)
	assert.Empty(t, report.StagingDir)
}

func TestRunBackup_ArchiverFailure(t *testing.T) {
	ta := newTestApp(t, newSite(t), func(c *config.Config) {
		c.Archive.Method = "tar"
	})
	ta.runner.On("tar", execution.FakeResponse{Result: execution.Result{ExitCode: 2, Stderr: "tar: write error"}})

	err := ta.app.RunBackup(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsReported(err))
	assert.Equal(t, 6, appErrors.ExitCode(err))
	assert.Contains(t, ta.stdout.String(), "Staging directory preserved")
	assert.Contains(t, ta.stderr.String(), "Troubleshooting hints")
}

func TestRunRecover_RoundTrip(t *testing.T) {
	root := newSite(t)
	ta := newTestApp(t, root, nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))
	archive := ta.onlyArchive(t)

	// Damage the live project
	writeFile(t, root, "src/pages/index.tsx", "broken")
	writeFile(t, root, ".env", "API_URL=wrong\n")
	require.NoError(t, os.RemoveAll(filepath.Join(root, "public")))

	ta.stdout.Reset()
	require.NoError(t, ta.app.RunRecover(context.Background(), filepath.Base(archive), RecoverOptions{}))

	data, err := os.ReadFile(filepath.Join(root, "src/pages/index.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "export default function Home() {}\n", string(data))

	data, err = os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "API_URL=https://example.test\n", string(data))

	data, err = os.ReadFile(filepath.Join(root, ".env.backup"))
	require.NoError(t, err)
	assert.Equal(t, "API_URL=wrong\n", string(data))

	assert.FileExists(t, filepath.Join(root, "public/robots.txt"))
	assert.Contains(t, ta.runner.CommandLines(), "npm install")
	assert.Contains(t, ta.runner.CommandLines(), "npm run build")
	assert.Contains(t, ta.stdout.String(), "Recovery Complete")
}

func TestRunRecover_SkipRebuild(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))

	require.NoError(t, ta.app.RunRecover(context.Background(), ta.onlyArchive(t), RecoverOptions{SkipRebuild: true}))

	assert.NotContains(t, ta.runner.CommandLines(), "npm install")
	assert.Contains(t, ta.stdout.String(), "Rebuild skipped")
}

func TestRunRecover_ConfirmationDeclined(t *testing.T) {
	root := newSite(t)
	ta := newTestApp(t, root, nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))
	writeFile(t, root, ".env", "API_URL=live\n")

	ta.app.interactive = true
	ta.app.stdin = strings.NewReader("n\n")
	ta.stdout.Reset()

	err := ta.app.RunRecover(context.Background(), ta.onlyArchive(t), RecoverOptions{})
	require.Error(t, err)
	assert.Contains(t, ta.stdout.String(), "Restore Plan")
	assert.Contains(t, ta.stdout.String(), ".env.backup")
	assert.Contains(t, ta.stderr.String(), "recovery declined")

	data, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "API_URL=live\n", string(data))
	assert.NotContains(t, ta.runner.CommandLines(), "npm install")
}

func TestRunRecover_ConfirmationSkippedWithAutoApprove(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))

	ta.app.interactive = true
	ta.app.stdin = strings.NewReader("")

	require.NoError(t, ta.app.RunRecover(context.Background(), ta.onlyArchive(t), RecoverOptions{AutoApprove: true, SkipRebuild: true}))
	assert.NotContains(t, ta.stdout.String(), "Restore Plan")
}

func TestNewApplication_InteractiveOnlyForTableOutput(t *testing.T) {
	cfg := config.Default()
	cfg.Project.Root = t.TempDir()
	cfg.Display.OutputFormat = "json"

	app, err := NewApplication(cfg, Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Interactive: true})
	require.NoError(t, err)
	assert.False(t, app.interactive)
}

func TestRunRecover_MissingArchive(t *testing.T) {
	ta := newTestApp(t, t.TempDir(), nil)
	missing := filepath.Join(t.TempDir(), "backup-nope.tar.gz")

	err := ta.app.RunRecover(context.Background(), missing, RecoverOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, appErrors.ExitCode(err))
	assert.Contains(t, ta.stderr.String(), "Backup file not found: "+missing)
	assert.Empty(t, ta.runner.Calls())
}

func TestRunRecover_EmptyArgument(t *testing.T) {
	ta := newTestApp(t, t.TempDir(), nil)

	err := ta.app.RunRecover(context.Background(), "  ", RecoverOptions{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeMissingInput, appErrors.GetErrorType(err))
}

func TestRunRecover_CorruptedArchive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".env", "LIVE=1\n")
	ta := newTestApp(t, root, nil)
	archive := corruptedArchive(t)

	err := ta.app.RunRecover(context.Background(), archive, RecoverOptions{})
	require.Error(t, err)
	assert.Equal(t, 5, appErrors.ExitCode(err))
	assert.Contains(t, ta.stderr.String(), "Backup integrity check failed: 1 files corrupted")
	assert.Contains(t, ta.stdout.String(), "content/index.html")
	assert.Contains(t, ta.stdout.String(), "Recovery aborted")

	data, err := os.ReadFile(filepath.Join(root, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "LIVE=1\n", string(data))
	assert.NoFileExists(t, filepath.Join(root, "index.html"))
	assert.Empty(t, ta.runner.Calls())
}

func TestRunVerify(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))

	ta.stdout.Reset()
	require.NoError(t, ta.app.RunVerify(context.Background(), ta.onlyArchive(t)))
	assert.Contains(t, ta.stdout.String(), "Verification Complete")

	err := ta.app.RunVerify(context.Background(), corruptedArchive(t))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrorTypeIntegrity, appErrors.GetErrorType(err))
}

func TestRunInspect(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))
	archive := ta.onlyArchive(t)

	ta.stdout.Reset()
	require.NoError(t, ta.app.RunInspect(context.Background(), archive))
	out := ta.stdout.String()
	assert.Contains(t, out, "2.3.1")
	assert.Contains(t, out, "content/public/robots.txt")
}

func TestRunInspect_JSON(t *testing.T) {
	ta := newTestApp(t, newSite(t), func(c *config.Config) {
		c.Display.OutputFormat = "json"
	})
	require.NoError(t, ta.app.RunBackup(context.Background(), ""))
	archive := ta.onlyArchive(t)

	ta.stdout.Reset()
	require.NoError(t, ta.app.RunInspect(context.Background(), archive))

	manifest, err := backup.ReadManifest(ta.stdout)
	require.NoError(t, err)
	assert.Len(t, manifest.Files, 5)
	assert.Equal(t, "unknown", manifest.GitCommit)
}

func TestRunList(t *testing.T) {
	ta := newTestApp(t, newSite(t), nil)

	require.NoError(t, ta.app.RunList(context.Background()))
	assert.Contains(t, ta.stdout.String(), "No backups found")

	require.NoError(t, ta.app.RunBackup(context.Background(), ""))
	archive := ta.onlyArchive(t)

	ta.stdout.Reset()
	require.NoError(t, ta.app.RunList(context.Background()))
	assert.Contains(t, ta.stdout.String(), filepath.Base(archive))
	assert.Contains(t, ta.stdout.String(), "gzip")
}

func TestHandleExecutionError_ReportsOnce(t *testing.T) {
	ta := newTestApp(t, t.TempDir(), nil)

	err := ta.app.handleExecutionError(backup.NewSubprocessError("Rebuild build failed", nil))
	again := ta.app.handleExecutionError(err)

	assert.Same(t, err, again)
	assert.Equal(t, 1, bytes.Count(ta.stderr.Bytes(), []byte("Error: Rebuild build failed")))
	assert.Contains(t, ta.stderr.String(), "Run the failing command by hand")
}

// corruptedArchive packs a snapshot whose index.html no longer matches the
// manifest checksum
func corruptedArchive(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	staging := filepath.Join(dir, "2024-01-15T10-30-00-000Z")

	writeFile(t, staging, "content/index.html", "<h1>original</h1>")
	writeFile(t, staging, "config/.env", "LIVE=0\n")

	builder := backup.NewManifestBuilder(backup.MetadataOptions{ProjectRoot: dir}, execution.NewFakeRunner(), nil)
	manifest, err := builder.Build(ctx, staging, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, backup.WriteManifest(staging, manifest))

	writeFile(t, staging, "content/index.html", "<h1>tampered</h1>")

	archivePath := filepath.Join(dir, "backup-2024-01-15T10-30-00-000Z.tar.gz")
	_, err = backup.NewArchiver(backup.ArchiveOptions{}, nil, nil).Archive(ctx, staging, archivePath)
	require.NoError(t, err)
	return archivePath
}
