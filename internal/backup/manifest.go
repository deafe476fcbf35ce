package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sitekeeper/internal/execution"
	"sitekeeper/internal/logging"
)

// MetadataOptions controls how the manifest builder discovers run metadata
type MetadataOptions struct {
	ProjectRoot        string
	MetadataFile       string
	EnvironmentVar     string
	DefaultEnvironment string

	VCSCommand string
	VCSTimeout time.Duration
	CommitEnv  []string
	BranchEnv  []string
}

// ManifestBuilder walks a staging root and produces its manifest
type ManifestBuilder struct {
	opts   MetadataOptions
	runner execution.CommandRunner
	logger *logging.Logger
}

// NewManifestBuilder creates a new manifest builder
func NewManifestBuilder(opts MetadataOptions, runner execution.CommandRunner, logger *logging.Logger) *ManifestBuilder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.VCSCommand == "" {
		opts.VCSCommand = "git"
	}
	return &ManifestBuilder{
		opts:   opts,
		runner: runner,
		logger: logger,
	}
}

// Build records every regular file under stagingRoot, except the manifest
// itself, together with its SHA-256 digest
func (b *ManifestBuilder) Build(ctx context.Context, stagingRoot string, timestamp time.Time) (*Manifest, error) {
	manifest := &Manifest{
		Timestamp:   FormatManifestTimestamp(timestamp),
		Version:     b.projectVersion(),
		Environment: b.environment(),
		Files:       []FileEntry{},
		Checksums:   make(map[string]string),
	}
	manifest.GitCommit = b.vcsValue(ctx, []string{"rev-parse", "HEAD"}, b.opts.CommitEnv)
	manifest.GitBranch = b.vcsValue(ctx, []string{"rev-parse", "--abbrev-ref", "HEAD"}, b.opts.BranchEnv)

	err := filepath.WalkDir(stagingRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(stagingRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == ManifestFileName {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		digest, err := FileChecksum(path)
		if err != nil {
			return err
		}

		manifest.Files = append(manifest.Files, FileEntry{
			Path:     rel,
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
		manifest.Checksums[rel] = digest
		manifest.Size += info.Size()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewFilesystemError("Failed to build manifest", err).WithContext("staging_dir", stagingRoot)
	}

	b.logger.WithFields(map[string]interface{}{
		"files":      len(manifest.Files),
		"size":       manifest.Size,
		"version":    manifest.Version,
		"git_commit": manifest.GitCommit,
	}).Debug("Manifest built")

	return manifest, nil
}

// projectVersion reads the version field of the project metadata file
func (b *ManifestBuilder) projectVersion() string {
	if b.opts.MetadataFile == "" {
		return UnknownValue
	}
	path := b.opts.MetadataFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.opts.ProjectRoot, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		b.logger.WithField("file", path).Debug("Project metadata not readable, version unknown")
		return UnknownValue
	}

	var meta struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &meta); err != nil || meta.Version == "" {
		b.logger.WithField("file", path).Debug("Project metadata has no version")
		return UnknownValue
	}
	return meta.Version
}

func (b *ManifestBuilder) environment() string {
	if b.opts.EnvironmentVar != "" {
		if env := os.Getenv(b.opts.EnvironmentVar); env != "" {
			return env
		}
	}
	if b.opts.DefaultEnvironment != "" {
		return b.opts.DefaultEnvironment
	}
	return UnknownValue
}

// vcsValue asks the VCS tool first, then the deployment platform's
// environment, and never fails
func (b *ManifestBuilder) vcsValue(ctx context.Context, args []string, envFallbacks []string) string {
	if b.runner != nil {
		result, err := b.runner.Run(ctx, execution.Command{
			Name:    b.opts.VCSCommand,
			Args:    args,
			Dir:     b.opts.ProjectRoot,
			Timeout: b.opts.VCSTimeout,
		})
		if err == nil {
			if value := strings.TrimSpace(result.Stdout); value != "" {
				return value
			}
		} else {
			b.logger.WithField("error", err.Error()).Debug("VCS lookup failed, trying environment")
		}
	}

	for _, name := range envFallbacks {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return UnknownValue
}

// WriteManifest writes manifest.json into stagingRoot
func WriteManifest(stagingRoot string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return NewFilesystemError("Failed to encode manifest", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(filepath.Join(stagingRoot, ManifestFileName), data, 0644); err != nil {
		return NewFilesystemError("Failed to write manifest", err)
	}
	return nil
}

// ReadManifest decodes a manifest from r
func ReadManifest(r io.Reader) (*Manifest, error) {
	var manifest Manifest
	if err := json.NewDecoder(r).Decode(&manifest); err != nil {
		return nil, NewInvalidContainerError("Manifest is not valid JSON", err)
	}
	if manifest.Checksums == nil {
		return nil, NewInvalidContainerError("Manifest has no checksums", nil)
	}
	return &manifest, nil
}

// LoadManifest reads a manifest file from disk
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewInvalidContainerError(fmt.Sprintf("Archive has no %s", ManifestFileName), err)
		}
		return nil, NewFilesystemError("Failed to open manifest", err)
	}
	defer f.Close()
	return ReadManifest(f)
}
