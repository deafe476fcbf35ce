package recovery

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/logging"
)

// RestoreOptions configures where and how files are restored
type RestoreOptions struct {
	ProjectRoot string
	// BuildOutput is the project-relative build directory that is never
	// restored from artifacts
	BuildOutput string
	// BackupSuffix is appended to live config files before they are replaced
	BackupSuffix string
}

// RestoreResult records what a restore wrote
type RestoreResult struct {
	ContentFiles        int      `json:"contentFiles" yaml:"contentFiles"`
	ArtifactFiles       int      `json:"artifactFiles" yaml:"artifactFiles"`
	ConfigFiles         int      `json:"configFiles" yaml:"configFiles"`
	ConfigBackups       []string `json:"configBackups,omitempty" yaml:"configBackups,omitempty"`
	ExcludedBuildOutput bool     `json:"excludedBuildOutput" yaml:"excludedBuildOutput"`
}

// RestorePlan describes what a restore of a verified snapshot will change
type RestorePlan struct {
	ProjectRoot        string   `json:"projectRoot" yaml:"projectRoot"`
	Snapshot           string   `json:"snapshot" yaml:"snapshot"`
	Version            string   `json:"version" yaml:"version"`
	GitCommit          string   `json:"gitCommit" yaml:"gitCommit"`
	ContentFiles       int      `json:"contentFiles" yaml:"contentFiles"`
	ArtifactFiles      int      `json:"artifactFiles" yaml:"artifactFiles"`
	ConfigFiles        int      `json:"configFiles" yaml:"configFiles"`
	SkippedBuildOutput int      `json:"skippedBuildOutput" yaml:"skippedBuildOutput"`
	ConfigOverwrites   []string `json:"configOverwrites,omitempty" yaml:"configOverwrites,omitempty"`
	BackupSuffix       string   `json:"backupSuffix" yaml:"backupSuffix"`
}

// Restorer copies a verified extraction into the live project
type Restorer struct {
	opts   RestoreOptions
	logger *logging.Logger
}

// NewRestorer creates a new restorer
func NewRestorer(opts RestoreOptions, logger *logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.BackupSuffix == "" {
		opts.BackupSuffix = ".backup"
	}
	opts.BuildOutput = path.Clean(filepath.ToSlash(opts.BuildOutput))
	return &Restorer{opts: opts, logger: logger}
}

// Plan derives the restore plan from a manifest without touching the project
func (r *Restorer) Plan(m *backup.Manifest) *RestorePlan {
	plan := &RestorePlan{
		ProjectRoot:  r.opts.ProjectRoot,
		Version:      m.Version,
		GitCommit:    m.GitCommit,
		BackupSuffix: r.opts.BackupSuffix,
	}

	for _, f := range m.Files {
		group, rel, ok := strings.Cut(f.Path, "/")
		if !ok {
			continue
		}
		switch group {
		case backup.ContentDir:
			plan.ContentFiles++
		case backup.ArtifactsDir:
			if r.isBuildOutput(rel) {
				plan.SkippedBuildOutput++
			} else {
				plan.ArtifactFiles++
			}
		case backup.ConfigDir:
			plan.ConfigFiles++
			if live, ok := backup.ContainedPath(r.opts.ProjectRoot, rel); ok {
				if info, err := os.Stat(live); err == nil && info.Mode().IsRegular() {
					plan.ConfigOverwrites = append(plan.ConfigOverwrites, rel)
				}
			}
		}
	}
	return plan
}

// RestoreFiles copies the content subtree, then the artifacts subtree minus
// the build output directory, into the project root
func (r *Restorer) RestoreFiles(ctx context.Context, extractionRoot string, result *RestoreResult) error {
	n, err := r.copySubtree(ctx, filepath.Join(extractionRoot, backup.ContentDir), nil)
	result.ContentFiles += n
	if err != nil {
		return err
	}

	n, err = r.copySubtree(ctx, filepath.Join(extractionRoot, backup.ArtifactsDir), func(rel string, d fs.DirEntry) bool {
		if r.isBuildOutput(rel) {
			result.ExcludedBuildOutput = true
			r.logger.WithField("path", rel).Info("Skipping build output, it is regenerated by the rebuild")
			return true
		}
		return false
	})
	result.ArtifactFiles += n
	return err
}

// RestoreConfig copies each configuration file into the project root. A live
// file that already exists is first copied to <name><suffix>.
func (r *Restorer) RestoreConfig(ctx context.Context, extractionRoot string, result *RestoreResult) error {
	configRoot := filepath.Join(extractionRoot, backup.ConfigDir)
	if _, err := os.Stat(configRoot); os.IsNotExist(err) {
		return nil
	}

	return filepath.WalkDir(configRoot, func(src string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return backup.NewFilesystemError("Failed to read extracted config", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(configRoot, src)
		if err != nil {
			return err
		}
		live, ok := backup.ContainedPath(r.opts.ProjectRoot, filepath.ToSlash(rel))
		if !ok {
			return backup.NewInvalidContainerError(fmt.Sprintf("Config path escapes the project root: %s", rel), nil)
		}

		info, err := os.Stat(live)
		switch {
		case err == nil && info.IsDir():
			return backup.NewFilesystemError(fmt.Sprintf("Cannot restore %s over a directory", rel), nil)
		case err == nil:
			preserved := live + r.opts.BackupSuffix
			if err := backup.CopyFile(live, preserved); err != nil {
				return backup.NewFilesystemError(fmt.Sprintf("Failed to preserve %s", rel), err)
			}
			result.ConfigBackups = append(result.ConfigBackups, filepath.ToSlash(rel)+r.opts.BackupSuffix)
			r.logger.LogFileOperation("preserve", live, preserved)
		case !os.IsNotExist(err):
			return backup.NewFilesystemError(fmt.Sprintf("Failed to inspect %s", rel), err)
		}

		if err := backup.CopyFile(src, live); err != nil {
			return backup.NewFilesystemError(fmt.Sprintf("Failed to restore %s", rel), err)
		}
		result.ConfigFiles++
		r.logger.LogFileOperation("restore", src, live)
		return nil
	})
}

func (r *Restorer) copySubtree(ctx context.Context, src string, skip func(string, fs.DirEntry) bool) (int, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return 0, nil
	}

	n, err := backup.CopyTree(ctx, src, r.opts.ProjectRoot, backup.CopyTreeOptions{
		Skip: skip,
		OnFile: func(from, to string) {
			r.logger.LogFileOperation("restore", from, to)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, backup.NewFilesystemError(fmt.Sprintf("Failed to restore %s", filepath.Base(src)), err).
			WithContext("project_root", r.opts.ProjectRoot)
	}
	return n, nil
}

func (r *Restorer) isBuildOutput(rel string) bool {
	if r.opts.BuildOutput == "" || r.opts.BuildOutput == "." {
		return false
	}
	return rel == r.opts.BuildOutput || strings.HasPrefix(rel, r.opts.BuildOutput+"/")
}
