package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"sitekeeper/internal/execution"
	"sitekeeper/internal/logging"
)

const pipelineName = "backup"

// Options configures a backup Manager
type Options struct {
	ProjectRoot  string
	BackupsDir   string
	Sources      SourceSet
	Metadata     MetadataOptions
	Archive      ArchiveOptions
	AuditLogFile string
}

// Manager runs the backup pipeline:
// Idle → Collecting → Manifesting → Archiving → Done | Failed
type Manager struct {
	opts     Options
	runner   execution.CommandRunner
	logger   *logging.Logger
	progress ProgressReporter
	now      func() time.Time

	collector *Collector
	builder   *ManifestBuilder
	archiver  *Archiver
}

// NewManager creates a new backup manager
func NewManager(opts Options, runner execution.CommandRunner, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Metadata.ProjectRoot == "" {
		opts.Metadata.ProjectRoot = opts.ProjectRoot
	}

	return &Manager{
		opts:      opts,
		runner:    runner,
		logger:    logger,
		progress:  NopProgress(),
		now:       time.Now,
		collector: NewCollector(opts.ProjectRoot, opts.Sources, logger),
		builder:   NewManifestBuilder(opts.Metadata, runner, logger),
		archiver:  NewArchiver(opts.Archive, runner, logger),
	}
}

// SetProgress sets the phase progress reporter
func (m *Manager) SetProgress(progress ProgressReporter) {
	if progress == nil {
		progress = NopProgress()
	}
	m.progress = progress
}

// SetClock overrides the clock used to name snapshots
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// CreateBackup captures the configured sources into one archive in the
// backups directory. On any failure the staging directory is left in place
// and reported in BackupReport.StagingDir.
func (m *Manager) CreateBackup(ctx context.Context) (*BackupReport, error) {
	wallStart := time.Now()
	started := m.now()
	snapshotID := SnapshotID(started)

	runLogger, err := NewRunLogger(RunLoggerConfig{Logger: m.logger, AuditLogFile: m.opts.AuditLogFile})
	if err != nil {
		m.logger.WithField("error", err.Error()).Warn("Audit log disabled")
	}
	defer runLogger.Close()
	ctx = runLogger.Context(ctx)

	report := &BackupReport{
		RunID:          runLogger.RunID(),
		SnapshotID:     snapshotID,
		Phase:          BackupPhaseIdle,
		PhaseDurations: make(map[string]time.Duration),
	}
	finish := runLogger.LogRunStart(ctx, pipelineName, map[string]interface{}{
		"snapshot_id":  snapshotID,
		"project_root": m.opts.ProjectRoot,
		"backups_dir":  m.opts.BackupsDir,
	})

	err = m.run(ctx, runLogger, report, started)
	report.Duration = time.Since(wallStart)
	if err != nil {
		report.FailedPhase = report.Phase
		report.Phase = BackupPhaseFailed
		report.Error = err.Error()
		m.progress.Fail(err)
	} else {
		report.Phase = BackupPhaseDone
	}

	finish(err, map[string]interface{}{
		"phase":        string(report.Phase),
		"archive":      report.ArchivePath,
		"archive_size": report.ArchiveSize,
		"files":        report.FileCount,
	})
	return report, err
}

func (m *Manager) run(ctx context.Context, runLogger *RunLogger, report *BackupReport, started time.Time) error {
	if err := os.MkdirAll(m.opts.BackupsDir, 0755); err != nil {
		return NewFilesystemError("Failed to create backups directory", err).WithContext("backups_dir", m.opts.BackupsDir)
	}

	stagingRoot := filepath.Join(m.opts.BackupsDir, report.SnapshotID)
	if err := os.Mkdir(stagingRoot, 0755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return NewFilesystemError(fmt.Sprintf("Snapshot %s already exists", report.SnapshotID), err)
		}
		return NewFilesystemError("Failed to create staging directory", err).WithContext("staging_dir", stagingRoot)
	}
	report.StagingDir = stagingRoot

	// Collecting
	phaseStart := m.enter(runLogger, report, BackupPhaseCollecting)
	stats, err := m.collector.Collect(ctx, stagingRoot)
	if err != nil {
		return err
	}
	report.SkippedSources = stats.Skipped
	m.leave(report, phaseStart, fmt.Sprintf("%d files collected", stats.FilesCopied))

	// Manifesting
	phaseStart = m.enter(runLogger, report, BackupPhaseManifesting)
	manifest, err := m.builder.Build(ctx, stagingRoot, started)
	if err != nil {
		return err
	}
	if err := WriteManifest(stagingRoot, manifest); err != nil {
		return err
	}
	report.FileCount = len(manifest.Files)
	report.TotalSize = manifest.Size
	report.Version = manifest.Version
	report.GitCommit = manifest.GitCommit
	report.GitBranch = manifest.GitBranch
	report.Environment = manifest.Environment
	m.leave(report, phaseStart, fmt.Sprintf("%d files checksummed", len(manifest.Files)))

	// Archiving
	phaseStart = m.enter(runLogger, report, BackupPhaseArchiving)
	archivePath := filepath.Join(m.opts.BackupsDir, m.archiver.ArchiveName(report.SnapshotID))
	size, err := m.archiver.Archive(ctx, stagingRoot, archivePath)
	if err != nil {
		m.logger.WithField("staging_dir", stagingRoot).Error("Archiving failed, staging directory preserved")
		return err
	}
	report.ArchivePath = archivePath
	report.ArchiveSize = size

	if err := os.RemoveAll(stagingRoot); err != nil {
		m.logger.WithFields(map[string]interface{}{
			"staging_dir": stagingRoot,
			"error":       err.Error(),
		}).Warn("Failed to remove staging directory")
	} else {
		report.StagingDir = ""
	}
	m.leave(report, phaseStart, filepath.Base(archivePath))

	return nil
}

func (m *Manager) enter(runLogger *RunLogger, report *BackupReport, phase BackupPhase) time.Time {
	report.Phase = phase
	runLogger.LogPhase(pipelineName, string(phase))
	m.progress.Start(string(phase))
	return time.Now()
}

func (m *Manager) leave(report *BackupReport, phaseStart time.Time, message string) {
	report.PhaseDurations[string(report.Phase)] = time.Since(phaseStart)
	m.progress.Complete(message)
}
