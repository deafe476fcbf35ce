package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/execution"
	"sitekeeper/internal/logging"
)

// RecoveryPhase is a state of the recovery pipeline
type RecoveryPhase string

const (
	PhaseIdle            RecoveryPhase = "Idle"
	PhaseValidating      RecoveryPhase = "Validating"
	PhaseExtracting      RecoveryPhase = "Extracting"
	PhaseVerifying       RecoveryPhase = "Verifying"
	PhaseRestoringFiles  RecoveryPhase = "RestoringFiles"
	PhaseRestoringConfig RecoveryPhase = "RestoringConfig"
	PhaseRebuilding      RecoveryPhase = "Rebuilding"
	PhaseDone            RecoveryPhase = "Done"
	PhaseAborted         RecoveryPhase = "Aborted"
	PhaseFailed          RecoveryPhase = "Failed"
)

// RecoveryPhases lists the working phases of a full recovery in order
func RecoveryPhases() []string {
	return []string{
		string(PhaseValidating),
		string(PhaseExtracting),
		string(PhaseVerifying),
		string(PhaseRestoringFiles),
		string(PhaseRestoringConfig),
		string(PhaseRebuilding),
	}
}

// VerifyPhases lists the phases of a verify-only run
func VerifyPhases() []string {
	return RecoveryPhases()[:3]
}

// ErrDeclined is returned when the operator rejects the restore plan
var ErrDeclined = errors.New("recovery declined, no project files were modified")

// ConfirmFunc approves a restore plan before any project file is written
type ConfirmFunc func(ctx context.Context, plan *RestorePlan) (bool, error)

// Options configures a recovery Manager
type Options struct {
	ProjectRoot   string
	WorkspaceDir  string
	KeepWorkspace bool
	Restore       RestoreOptions
	Rebuild       RebuildOptions
	SkipRebuild   bool
	AuditLogFile  string
}

// RecoverOptions are per-run overrides
type RecoverOptions struct {
	SkipRebuild   bool
	KeepWorkspace bool
}

// RecoveryReport summarises one recovery or verification run
type RecoveryReport struct {
	RunID          string                   `json:"runId" yaml:"runId"`
	Archive        string                   `json:"archive" yaml:"archive"`
	Phase          RecoveryPhase            `json:"phase" yaml:"phase"`
	FailedPhase    RecoveryPhase            `json:"failedPhase,omitempty" yaml:"failedPhase,omitempty"`
	Workspace      string                   `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Snapshot       string                   `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Version        string                   `json:"version,omitempty" yaml:"version,omitempty"`
	GitCommit      string                   `json:"gitCommit,omitempty" yaml:"gitCommit,omitempty"`
	Verification   *VerificationResult      `json:"verification,omitempty" yaml:"verification,omitempty"`
	Restore        *RestoreResult           `json:"restore,omitempty" yaml:"restore,omitempty"`
	RebuildSkipped bool                     `json:"rebuildSkipped,omitempty" yaml:"rebuildSkipped,omitempty"`
	Duration       time.Duration            `json:"duration" yaml:"duration"`
	PhaseDurations map[string]time.Duration `json:"phaseDurations" yaml:"phaseDurations"`
	Error          string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Manager runs the recovery pipeline:
// Idle → Validating → Extracting → Verifying → Aborted | RestoringFiles →
// RestoringConfig → Rebuilding → Done | Failed
type Manager struct {
	opts     Options
	runner   execution.CommandRunner
	logger   *logging.Logger
	progress backup.ProgressReporter
	confirm  ConfirmFunc

	validator *Validator
	extractor *Extractor
	verifier  *Verifier
}

// NewManager creates a new recovery manager
func NewManager(opts Options, runner execution.CommandRunner, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Restore.ProjectRoot == "" {
		opts.Restore.ProjectRoot = opts.ProjectRoot
	}

	return &Manager{
		opts:      opts,
		runner:    runner,
		logger:    logger,
		progress:  backup.NopProgress(),
		validator: NewValidator(logger),
		extractor: NewExtractor(opts.WorkspaceDir, logger),
		verifier:  NewVerifier(logger),
	}
}

// SetProgress sets the phase progress reporter
func (m *Manager) SetProgress(progress backup.ProgressReporter) {
	if progress == nil {
		progress = backup.NopProgress()
	}
	m.progress = progress
}

// SetConfirm installs an approval step between verification and restore
func (m *Manager) SetConfirm(confirm ConfirmFunc) {
	m.confirm = confirm
}

// Recover validates, extracts and verifies archivePath, then restores it into
// the project and rebuilds. Nothing in the project is touched unless every
// file passes verification.
func (m *Manager) Recover(ctx context.Context, archivePath string, ro RecoverOptions) (*RecoveryReport, error) {
	return m.execute(ctx, "recovery", archivePath, func(ctx context.Context, r *run) error {
		ws, err := m.prepare(ctx, r, archivePath)
		if err != nil {
			return err
		}

		restorer := NewRestorer(m.opts.Restore, m.logger)
		if m.confirm != nil {
			plan := restorer.Plan(ws.Manifest)
			plan.Snapshot = r.report.Snapshot
			approved, err := m.confirm(ctx, plan)
			if err != nil {
				return err
			}
			if !approved {
				return ErrDeclined
			}
		}

		result := &RestoreResult{}
		r.report.Restore = result

		r.enter(PhaseRestoringFiles)
		if err := restorer.RestoreFiles(ctx, ws.Root, result); err != nil {
			return err
		}
		r.leave(fmt.Sprintf("%d content, %d artifact files", result.ContentFiles, result.ArtifactFiles))

		r.enter(PhaseRestoringConfig)
		if err := restorer.RestoreConfig(ctx, ws.Root, result); err != nil {
			return err
		}
		r.leave(fmt.Sprintf("%d config files, %d preserved", result.ConfigFiles, len(result.ConfigBackups)))

		if ro.SkipRebuild || m.opts.SkipRebuild {
			r.report.RebuildSkipped = true
			m.progress.Skip(string(PhaseRebuilding), "rebuild disabled")
			m.logger.Warn("Rebuild skipped; the build output is stale until the project is rebuilt")
		} else {
			r.enter(PhaseRebuilding)
			if err := NewRebuilder(m.opts.Rebuild, m.opts.ProjectRoot, m.runner, m.logger).Rebuild(ctx); err != nil {
				return err
			}
			r.leave("")
		}

		return nil
	}, ro.KeepWorkspace)
}

// Verify validates, extracts and verifies archivePath without touching the
// project. The workspace is always removed unless keeping is configured.
func (m *Manager) Verify(ctx context.Context, archivePath string) (*RecoveryReport, error) {
	return m.execute(ctx, "verify", archivePath, func(ctx context.Context, r *run) error {
		_, err := m.prepare(ctx, r, archivePath)
		return err
	}, false)
}

// Inspect reads the manifest straight from the archive stream
func (m *Manager) Inspect(ctx context.Context, archivePath string) (*backup.Manifest, error) {
	listing, err := m.validator.Validate(ctx, archivePath)
	if err != nil {
		return nil, err
	}

	reader, err := backup.OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	want := path.Join(listing.Root, backup.ManifestFileName)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name, err := entryName(header)
		if err != nil {
			return nil, err
		}
		if name == want {
			return backup.ReadManifest(reader)
		}
	}
	return nil, backup.NewInvalidContainerError(fmt.Sprintf("Archive has no %s", backup.ManifestFileName), nil)
}

// run carries the state of one pipeline execution
type run struct {
	m          *Manager
	pipeline   string
	runLogger  *backup.RunLogger
	report     *RecoveryReport
	workspace  *Workspace
	phaseStart time.Time
}

func (r *run) enter(phase RecoveryPhase) {
	r.report.Phase = phase
	r.runLogger.LogPhase(r.pipeline, string(phase))
	r.m.progress.Start(string(phase))
	r.phaseStart = time.Now()
}

func (r *run) leave(message string) {
	r.report.PhaseDurations[string(r.report.Phase)] = time.Since(r.phaseStart)
	r.m.progress.Complete(message)
}

// prepare runs Validating, Extracting and Verifying and returns a workspace
// whose every file matched the manifest
func (m *Manager) prepare(ctx context.Context, r *run, archivePath string) (*Workspace, error) {
	r.enter(PhaseValidating)
	listing, err := m.validator.Validate(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	r.leave(fmt.Sprintf("%s, %d files", listing.Compression, listing.Files))

	r.enter(PhaseExtracting)
	ws, err := m.extractor.Extract(ctx, archivePath)
	r.workspace = ws
	if ws != nil {
		r.report.Workspace = ws.Dir
	}
	if err != nil {
		return nil, err
	}
	r.report.Snapshot = filepath.Base(ws.Root)
	r.report.Version = ws.Manifest.Version
	r.report.GitCommit = ws.Manifest.GitCommit
	if err := ws.Manifest.CheckConsistency(); err != nil {
		m.logger.WithField("error", err.Error()).Warn("Manifest is inconsistent")
	}
	r.leave(r.report.Snapshot)

	r.enter(PhaseVerifying)
	result, err := m.verifier.Verify(ctx, ws.Root, ws.Manifest)
	r.report.Verification = result
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("%d files verified", result.VerifiedCount)
	if result.MissingCount > 0 {
		msg += fmt.Sprintf(", %d missing", result.MissingCount)
	}
	r.leave(msg)

	return ws, nil
}

func (m *Manager) execute(ctx context.Context, pipeline, archivePath string, body func(context.Context, *run) error, keepWorkspace bool) (*RecoveryReport, error) {
	started := time.Now()

	runLogger, err := backup.NewRunLogger(backup.RunLoggerConfig{Logger: m.logger, AuditLogFile: m.opts.AuditLogFile})
	if err != nil {
		m.logger.WithField("error", err.Error()).Warn("Audit log disabled")
	}
	defer runLogger.Close()
	ctx = runLogger.Context(ctx)

	r := &run{
		m:         m,
		pipeline:  pipeline,
		runLogger: runLogger,
		report: &RecoveryReport{
			RunID:          runLogger.RunID(),
			Archive:        archivePath,
			Phase:          PhaseIdle,
			PhaseDurations: make(map[string]time.Duration),
		},
	}
	finish := runLogger.LogRunStart(ctx, pipeline, map[string]interface{}{
		"archive":      archivePath,
		"project_root": m.opts.ProjectRoot,
	})

	err = body(ctx, r)
	report := r.report
	report.Duration = time.Since(started)

	if err != nil {
		report.FailedPhase = report.Phase
		report.Phase = PhaseFailed
		if backup.IsType(err, backup.BackupErrorTypeIntegrityViolation) || errors.Is(err, ErrDeclined) {
			report.Phase = PhaseAborted
		}
		report.Error = err.Error()
		m.progress.Fail(err)
	} else {
		report.Phase = PhaseDone
	}

	m.finishWorkspace(r, err, keepWorkspace)

	finish(err, map[string]interface{}{
		"phase":     string(report.Phase),
		"workspace": report.Workspace,
	})
	return report, err
}

// finishWorkspace removes the workspace after success and keeps it for
// inspection after a failure
func (m *Manager) finishWorkspace(r *run, runErr error, keep bool) {
	if r.workspace == nil {
		return
	}
	failed := runErr != nil && !errors.Is(runErr, ErrDeclined)
	if failed || keep || m.opts.KeepWorkspace {
		if failed && !errors.Is(runErr, context.Canceled) {
			m.logger.WithField("workspace", r.workspace.Dir).Warn("Recovery workspace kept for inspection")
		}
		return
	}

	if err := r.workspace.Remove(); err != nil {
		m.logger.WithFields(map[string]interface{}{
			"workspace": r.workspace.Dir,
			"error":     err.Error(),
		}).Warn("Failed to remove recovery workspace")
		return
	}
	r.report.Workspace = ""
}
