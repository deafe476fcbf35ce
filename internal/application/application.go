package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/config"
	"sitekeeper/internal/confirmation"
	"sitekeeper/internal/display"
	appErrors "sitekeeper/internal/errors"
	"sitekeeper/internal/execution"
	"sitekeeper/internal/logging"
	"sitekeeper/internal/recovery"
)

// Application wires configuration, logging, display and the two pipelines
type Application struct {
	config  *config.Config
	root    string
	logger  *logging.Logger
	display display.DisplayService
	runner  execution.CommandRunner
	stdin   io.Reader
	stderr  io.Writer

	interactive bool
}

// Options carries the process-level collaborators. Zero values mean
// os.Stdin, os.Stdout, os.Stderr and a real command runner.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Runner execution.CommandRunner

	// Interactive enables the restore confirmation prompt
	Interactive bool
}

// RecoverOptions are the per-invocation recover flags
type RecoverOptions struct {
	SkipRebuild   bool
	KeepWorkspace bool
	AutoApprove   bool
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeConfiguration, "no configuration", nil)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	root, err := cfg.ProjectRoot()
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeConfiguration, err.Error(), err)
	}

	// Determine log level
	logLevel := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Display.QuietMode {
		logLevel = logging.LogLevelQuiet
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   logLevel,
		Output:  opts.Stderr,
		Format:  cfg.Logging.Format,
		LogFile: cfg.Logging.File,
	})
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeConfiguration, "failed to create logger", err)
	}

	displayConfig := cfg.Display
	displayConfig.Writer = opts.Stdout
	displayService := display.NewDisplayService(&displayConfig)

	runner := opts.Runner
	if runner == nil {
		// Streamed subprocess output must not interleave with JSON/YAML on stdout
		streamOut := opts.Stdout
		if displayConfig.OutputFormat != string(display.FormatTable) {
			streamOut = opts.Stderr
		}
		runner = execution.NewExecRunner(logger, streamOut, opts.Stderr)
	}

	return &Application{
		config:  cfg,
		root:    root,
		logger:  logger,
		display: displayService,
		runner:  runner,
		stdin:   opts.Stdin,
		stderr:  opts.Stderr,

		// Prompts make no sense without a human reading table output
		interactive: opts.Interactive && !displayConfig.QuietMode &&
			displayConfig.OutputFormat == string(display.FormatTable),
	}, nil
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// GetDisplay returns the display service
func (app *Application) GetDisplay() display.DisplayService {
	return app.display
}

// RunBackup creates one archive. outputDir overrides the configured backups
// directory when set.
func (app *Application) RunBackup(ctx context.Context, outputDir string) error {
	manager, err := app.newBackupManager(outputDir)
	if err != nil {
		return app.handleExecutionError(err)
	}

	tracker := app.display.NewPhaseTracker(backup.BackupPhases())
	manager.SetProgress(tracker)

	var report *backup.BackupReport
	err = app.withShutdown(ctx, func(ctx context.Context) error {
		var runErr error
		report, runErr = manager.CreateBackup(ctx)
		return runErr
	})

	app.displayBackupReport(report, err)
	if err != nil {
		return app.handleExecutionError(err)
	}
	return nil
}

// RunRecover restores the project from archive and rebuilds it
func (app *Application) RunRecover(ctx context.Context, archive string, ro RecoverOptions) error {
	archivePath, err := app.resolveArchive(archive)
	if err != nil {
		return app.handleExecutionError(err)
	}

	manager := app.newRecoveryManager()
	tracker := app.display.NewPhaseTracker(recovery.RecoveryPhases())
	manager.SetProgress(tracker)
	if app.interactive && !ro.AutoApprove {
		confirmer := confirmation.NewConfirmationService(app.display, app.stdin, app.display.GetConfig().Writer)
		manager.SetConfirm(func(ctx context.Context, plan *recovery.RestorePlan) (bool, error) {
			return confirmer.ConfirmRestore(ctx, plan, false)
		})
	}

	app.logger.WithFields(map[string]interface{}{
		"archive":      archivePath,
		"project_root": app.root,
	}).Info("Recovering project from backup")

	var report *recovery.RecoveryReport
	err = app.withShutdown(ctx, func(ctx context.Context) error {
		var runErr error
		report, runErr = manager.Recover(ctx, archivePath, recovery.RecoverOptions{
			SkipRebuild:   ro.SkipRebuild,
			KeepWorkspace: ro.KeepWorkspace,
		})
		return runErr
	})

	app.displayRecoveryReport("Recovery", report, err)
	if err != nil {
		return app.handleExecutionError(err)
	}
	return nil
}

// RunVerify checks archive against its manifest without touching the project
func (app *Application) RunVerify(ctx context.Context, archive string) error {
	archivePath, err := app.resolveArchive(archive)
	if err != nil {
		return app.handleExecutionError(err)
	}

	manager := app.newRecoveryManager()
	manager.SetProgress(app.display.NewPhaseTracker(recovery.VerifyPhases()))

	var report *recovery.RecoveryReport
	err = app.withShutdown(ctx, func(ctx context.Context) error {
		var runErr error
		report, runErr = manager.Verify(ctx, archivePath)
		return runErr
	})

	app.displayRecoveryReport("Verification", report, err)
	if err != nil {
		return app.handleExecutionError(err)
	}
	return nil
}

// RunInspect prints the manifest embedded in archive
func (app *Application) RunInspect(ctx context.Context, archive string) error {
	archivePath, err := app.resolveArchive(archive)
	if err != nil {
		return app.handleExecutionError(err)
	}

	var manifest *backup.Manifest
	err = app.withShutdown(ctx, func(ctx context.Context) error {
		var runErr error
		manifest, runErr = app.newRecoveryManager().Inspect(ctx, archivePath)
		return runErr
	})
	if err != nil {
		return app.handleExecutionError(err)
	}

	if app.display.GetConfig().OutputFormat != string(display.FormatTable) {
		if err := app.display.PrintStructured(manifest); err != nil {
			return app.handleExecutionError(err)
		}
		return nil
	}

	app.display.PrintHeader(fmt.Sprintf("Snapshot %s", archivePath))
	app.display.PrintKeyValues([][2]string{
		{"Timestamp", manifest.Timestamp},
		{"Version", manifest.Version},
		{"Git commit", manifest.GitCommit},
		{"Git branch", manifest.GitBranch},
		{"Environment", manifest.Environment},
		{"Files", fmt.Sprintf("%d", len(manifest.Files))},
		{"Size", display.FormatBytes(manifest.Size)},
	})

	rows := make([][]string, 0, len(manifest.Files))
	for _, f := range manifest.Files {
		rows = append(rows, []string{
			f.Path,
			display.FormatBytes(f.Size),
			f.Modified.UTC().Format(time.RFC3339),
			shortChecksum(manifest.Checksums[f.Path]),
		})
	}
	app.display.PrintTable([]string{"Path", "Size", "Modified", "SHA-256"}, rows)
	return nil
}

// RunList prints the archives in the backups directory, newest first
func (app *Application) RunList(ctx context.Context) error {
	store := backup.NewArchiveStore(app.config.BackupsDir())
	archives, err := store.List(ctx)
	if err != nil {
		return app.handleExecutionError(err)
	}

	if len(archives) == 0 && app.display.GetConfig().OutputFormat == string(display.FormatTable) {
		app.display.Info(fmt.Sprintf("No backups found in %s", store.GetBasePath()))
		return nil
	}

	rows := make([][]string, 0, len(archives))
	for _, a := range archives {
		rows = append(rows, []string{
			a.Name,
			display.FormatBytes(a.Size),
			a.Modified.Local().Format("2006-01-02 15:04:05"),
			string(a.Compression),
		})
	}
	app.display.PrintTable([]string{"Name", "Size", "Modified", "Compression"}, rows)
	return nil
}

func (app *Application) newBackupManager(outputDir string) (*backup.Manager, error) {
	cfg := app.config

	compression, err := backup.ParseCompressionType(cfg.Archive.Compression)
	if err != nil {
		return nil, err
	}
	method, err := backup.ParseArchiveMethod(cfg.Archive.Method)
	if err != nil {
		return nil, err
	}

	backupsDir := cfg.BackupsDir()
	if outputDir != "" {
		backupsDir = cfg.ResolvePath(outputDir)
	}

	return backup.NewManager(backup.Options{
		ProjectRoot: app.root,
		BackupsDir:  backupsDir,
		Sources: backup.SourceSet{
			Content:   cfg.Sources.Content,
			Config:    cfg.Sources.Config,
			Artifacts: cfg.Sources.Artifacts,
		},
		Metadata: backup.MetadataOptions{
			ProjectRoot:        app.root,
			MetadataFile:       cfg.Project.MetadataFile,
			EnvironmentVar:     cfg.Project.EnvironmentVar,
			DefaultEnvironment: cfg.Project.DefaultEnvironment,
			VCSCommand:         cfg.VCS.Command,
			VCSTimeout:         cfg.Timeouts.VCS,
			CommitEnv:          cfg.VCS.CommitEnv,
			BranchEnv:          cfg.VCS.BranchEnv,
		},
		Archive: backup.ArchiveOptions{
			Method:      method,
			Compression: compression,
			Level:       cfg.Archive.Level,
			Timeout:     cfg.Timeouts.Archive,
		},
		AuditLogFile: cfg.ResolvePath(cfg.Logging.AuditLog),
	}, app.runner, app.logger), nil
}

func (app *Application) newRecoveryManager() *recovery.Manager {
	cfg := app.config

	return recovery.NewManager(recovery.Options{
		ProjectRoot:   app.root,
		WorkspaceDir:  cfg.ResolvePath(cfg.Restore.WorkspaceDir),
		KeepWorkspace: cfg.Restore.KeepWorkspace,
		Restore: recovery.RestoreOptions{
			ProjectRoot:  app.root,
			BuildOutput:  cfg.Restore.BuildOutput,
			BackupSuffix: cfg.Restore.BackupSuffix,
		},
		Rebuild: recovery.RebuildOptions{
			Install:        cfg.Rebuild.Install,
			Build:          cfg.Rebuild.Build,
			InstallTimeout: cfg.Timeouts.Install,
			BuildTimeout:   cfg.Timeouts.Build,
		},
		SkipRebuild:  cfg.Rebuild.Skip,
		AuditLogFile: cfg.ResolvePath(cfg.Logging.AuditLog),
	}, app.runner, app.logger)
}

// resolveArchive accepts a path or a bare archive name from the backups directory
func (app *Application) resolveArchive(archive string) (string, error) {
	if strings.TrimSpace(archive) == "" {
		return "", backup.NewMissingInputError("No backup file specified", nil)
	}
	return backup.NewArchiveStore(app.config.BackupsDir()).Resolve(archive), nil
}

// withShutdown runs fn under a context canceled by SIGINT/SIGTERM
func (app *Application) withShutdown(ctx context.Context, fn func(context.Context) error) error {
	shutdownHandler := appErrors.NewGracefulShutdownHandler()
	shutdownHandler.RegisterShutdownFunc(func() error {
		app.logger.Warn("Interrupt received, stopping; partial state is left for manual cleanup")
		return nil
	})
	ctx = shutdownHandler.Start(ctx)
	defer shutdownHandler.Stop()

	err := fn(ctx)
	if err != nil && shutdownHandler.Interrupted() && !errors.Is(err, context.Canceled) {
		err = appErrors.NewAppError(appErrors.ErrorTypeInterruption, "Operation was interrupted", err)
	}
	return err
}

// reportedError marks an error already shown to the user
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// IsReported reports whether err was already displayed by the application
func IsReported(err error) bool {
	var re *reportedError
	return errors.As(err, &re)
}

// handleExecutionError displays and logs err and returns it marked as reported
func (app *Application) handleExecutionError(err error) error {
	if err == nil || IsReported(err) {
		return err
	}

	fmt.Fprintf(app.stderr, "Error: %s\n", appErrors.FormatUserError(err))

	appErr := appErrors.NewErrorClassifier().ClassifyError(err)
	app.logger.WithFields(map[string]interface{}{
		"error_type": string(appErr.Type),
		"exit_code":  appErr.ExitCode(),
		"context":    appErr.Context,
	}).Debug("Execution failed")

	app.provideTroubleshootingHints(appErr)
	return &reportedError{err: err}
}

// provideTroubleshootingHints provides helpful troubleshooting information
func (app *Application) provideTroubleshootingHints(appErr *appErrors.AppError) {
	var hints []string

	switch appErr.Type {
	case appErrors.ErrorTypeMissingInput:
		hints = []string{
			"Check the archive path, or run 'sitekeeper list' to see available backups",
		}
	case appErrors.ErrorTypeInvalidContainer:
		hints = []string{
			"The file is not a sitekeeper archive or it was truncated",
			"Archives must contain a single snapshot directory with a manifest.json",
		}
	case appErrors.ErrorTypeIntegrity:
		hints = []string{
			"No project files were modified",
			"Try an older backup; 'sitekeeper verify <archive>' checks one without restoring",
		}
	case appErrors.ErrorTypeSubprocess:
		hints = []string{
			"Run the failing command by hand in the project root to see its full output",
			"Use --verbose to log every external command",
		}
	case appErrors.ErrorTypeTimeout:
		hints = []string{
			"Raise the matching value in the timeouts section of the configuration",
		}
	case appErrors.ErrorTypePermission:
		hints = []string{
			"Check ownership of the project root and the backups directory",
		}
	case appErrors.ErrorTypeConfiguration:
		hints = []string{
			"Run 'sitekeeper config' to print a configuration template",
		}
	}

	if len(hints) == 0 || app.display.GetConfig().QuietMode {
		return
	}
	fmt.Fprintf(app.stderr, "\nTroubleshooting hints:\n")
	for _, hint := range hints {
		fmt.Fprintf(app.stderr, "- %s\n", hint)
	}
}

func (app *Application) structured() bool {
	return app.display.GetConfig().OutputFormat != string(display.FormatTable)
}

// displayBackupReport displays the backup report to the user
func (app *Application) displayBackupReport(report *backup.BackupReport, runErr error) {
	if report == nil {
		return
	}
	if app.structured() {
		if err := app.display.PrintStructured(report); err != nil {
			app.logger.WithField("error", err.Error()).Warn("Failed to render report")
		}
		return
	}

	for _, skipped := range report.SkippedSources {
		app.display.Warning(fmt.Sprintf("Source not found, skipped: %s", skipped))
	}
	if runErr != nil {
		if report.StagingDir != "" {
			app.display.Warning(fmt.Sprintf("Staging directory preserved at %s", report.StagingDir))
		}
		return
	}

	app.display.PrintHeader("Backup Complete")
	app.display.PrintKeyValues([][2]string{
		{"Snapshot", report.SnapshotID},
		{"Archive", report.ArchivePath},
		{"Archive size", display.FormatBytes(report.ArchiveSize)},
		{"Files", fmt.Sprintf("%d (%s)", report.FileCount, display.FormatBytes(report.TotalSize))},
		{"Version", report.Version},
		{"Git", fmt.Sprintf("%s (%s)", report.GitCommit, report.GitBranch)},
		{"Environment", report.Environment},
		{"Duration", report.Duration.Round(time.Millisecond).String()},
	})
	app.display.Success(fmt.Sprintf("Backup written to %s", report.ArchivePath))
}

// displayRecoveryReport displays a recovery or verification report
func (app *Application) displayRecoveryReport(title string, report *recovery.RecoveryReport, runErr error) {
	if report == nil {
		return
	}
	if app.structured() {
		if err := app.display.PrintStructured(report); err != nil {
			app.logger.WithField("error", err.Error()).Warn("Failed to render report")
		}
		return
	}

	if v := report.Verification; v != nil {
		rows := make([][]string, 0, len(v.FailedPaths)+len(v.MissingPaths))
		for _, p := range v.FailedPaths {
			rows = append(rows, []string{"corrupted", p})
		}
		for _, p := range v.MissingPaths {
			rows = append(rows, []string{"missing", p})
		}
		if len(rows) > 0 {
			app.display.PrintTable([]string{"Status", "Path"}, rows)
		}
	}

	if runErr != nil {
		if report.Phase == recovery.PhaseAborted {
			app.display.Warning(title + " aborted before any project file was modified")
		} else if report.FailedPhase != "" {
			app.display.Warning(fmt.Sprintf("%s failed during %s", title, report.FailedPhase))
		}
		if report.Workspace != "" {
			app.display.Warning(fmt.Sprintf("Recovery workspace kept at %s", report.Workspace))
		}
		return
	}

	pairs := [][2]string{
		{"Archive", report.Archive},
		{"Snapshot", report.Snapshot},
		{"Version", report.Version},
		{"Git commit", report.GitCommit},
	}
	if v := report.Verification; v != nil {
		pairs = append(pairs, [2]string{"Verified files", fmt.Sprintf("%d", v.VerifiedCount)})
		if v.MissingCount > 0 {
			pairs = append(pairs, [2]string{"Missing files", fmt.Sprintf("%d", v.MissingCount)})
		}
	}
	if r := report.Restore; r != nil {
		pairs = append(pairs,
			[2]string{"Restored", fmt.Sprintf("%d content, %d artifact, %d config files", r.ContentFiles, r.ArtifactFiles, r.ConfigFiles)},
			[2]string{"Config backups", fmt.Sprintf("%d", len(r.ConfigBackups))},
		)
	}
	if report.Workspace != "" {
		pairs = append(pairs, [2]string{"Workspace", report.Workspace})
	}
	pairs = append(pairs, [2]string{"Duration", report.Duration.Round(time.Millisecond).String()})

	app.display.PrintHeader(title + " Complete")
	app.display.PrintKeyValues(pairs)

	if report.RebuildSkipped {
		app.display.Warning("Rebuild skipped; run the build before serving the site")
	}
	app.display.Success(fmt.Sprintf("%s of %s succeeded", title, report.Snapshot))
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
