package backup

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Layout of a staged snapshot and of the top-level directory inside an archive
const (
	ManifestFileName = "manifest.json"
	ContentDir       = "content"
	ConfigDir        = "config"
	ArtifactsDir     = "artifacts"

	// ArchivePrefix prefixes every archive file name
	ArchivePrefix = "backup-"

	// UnknownValue is recorded for metadata that could not be determined
	UnknownValue = "unknown"
)

// FileEntry describes one staged file in the manifest
type FileEntry struct {
	Path     string    `json:"path" yaml:"path"`
	Size     int64     `json:"size" yaml:"size"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

// Manifest is the record embedded in every archive. Its JSON form is shared
// by the backup and recovery sides and must stay stable.
type Manifest struct {
	Timestamp   string            `json:"timestamp" yaml:"timestamp"`
	Version     string            `json:"version" yaml:"version"`
	GitCommit   string            `json:"gitCommit" yaml:"gitCommit"`
	GitBranch   string            `json:"gitBranch" yaml:"gitBranch"`
	Environment string            `json:"environment" yaml:"environment"`
	Files       []FileEntry       `json:"files" yaml:"files"`
	Checksums   map[string]string `json:"checksums" yaml:"checksums"`
	Size        int64             `json:"size" yaml:"size"`
}

// CheckConsistency verifies that files and checksums describe the same set of
// paths and that size is the sum of file sizes
func (m *Manifest) CheckConsistency() error {
	var problems []string
	seen := make(map[string]bool, len(m.Files))
	var total int64

	for _, f := range m.Files {
		if seen[f.Path] {
			problems = append(problems, fmt.Sprintf("duplicate file entry %s", f.Path))
		}
		seen[f.Path] = true
		total += f.Size
		if _, ok := m.Checksums[f.Path]; !ok {
			problems = append(problems, fmt.Sprintf("no checksum for %s", f.Path))
		}
	}
	for p := range m.Checksums {
		if !seen[p] {
			problems = append(problems, fmt.Sprintf("checksum without file entry %s", p))
		}
	}
	if total != m.Size {
		problems = append(problems, fmt.Sprintf("size %d does not match file total %d", m.Size, total))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("inconsistent manifest: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SortedChecksumPaths returns the checksum keys in lexical order
func (m *Manifest) SortedChecksumPaths() []string {
	paths := make([]string, 0, len(m.Checksums))
	for p := range m.Checksums {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BackupPhase is a state of the backup pipeline
type BackupPhase string

const (
	BackupPhaseIdle        BackupPhase = "Idle"
	BackupPhaseCollecting  BackupPhase = "Collecting"
	BackupPhaseManifesting BackupPhase = "Manifesting"
	BackupPhaseArchiving   BackupPhase = "Archiving"
	BackupPhaseDone        BackupPhase = "Done"
	BackupPhaseFailed      BackupPhase = "Failed"
)

// BackupPhases lists the working phases in execution order
func BackupPhases() []string {
	return []string{
		string(BackupPhaseCollecting),
		string(BackupPhaseManifesting),
		string(BackupPhaseArchiving),
	}
}

// BackupReport summarises one backup run
type BackupReport struct {
	RunID          string                   `json:"runId" yaml:"runId"`
	SnapshotID     string                   `json:"snapshotId" yaml:"snapshotId"`
	Phase          BackupPhase              `json:"phase" yaml:"phase"`
	FailedPhase    BackupPhase              `json:"failedPhase,omitempty" yaml:"failedPhase,omitempty"`
	ArchivePath    string                   `json:"archivePath,omitempty" yaml:"archivePath,omitempty"`
	ArchiveSize    int64                    `json:"archiveSize,omitempty" yaml:"archiveSize,omitempty"`
	StagingDir     string                   `json:"stagingDir,omitempty" yaml:"stagingDir,omitempty"`
	FileCount      int                      `json:"fileCount" yaml:"fileCount"`
	TotalSize      int64                    `json:"totalSize" yaml:"totalSize"`
	SkippedSources []string                 `json:"skippedSources,omitempty" yaml:"skippedSources,omitempty"`
	Version        string                   `json:"version,omitempty" yaml:"version,omitempty"`
	GitCommit      string                   `json:"gitCommit,omitempty" yaml:"gitCommit,omitempty"`
	GitBranch      string                   `json:"gitBranch,omitempty" yaml:"gitBranch,omitempty"`
	Environment    string                   `json:"environment,omitempty" yaml:"environment,omitempty"`
	Duration       time.Duration            `json:"duration" yaml:"duration"`
	PhaseDurations map[string]time.Duration `json:"phaseDurations" yaml:"phaseDurations"`
	Error          string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// ProgressReporter receives phase transitions; display.PhaseTracker satisfies it
type ProgressReporter interface {
	Start(phase string)
	Complete(message string)
	Skip(phase, reason string)
	Fail(err error)
}

type nopProgress struct{}

func (nopProgress) Start(string)        {}
func (nopProgress) Complete(string)     {}
func (nopProgress) Skip(string, string) {}
func (nopProgress) Fail(error)          {}

// NopProgress returns a ProgressReporter that reports nothing
func NopProgress() ProgressReporter {
	return nopProgress{}
}

const manifestTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatManifestTimestamp renders t as an ISO-8601 UTC timestamp with milliseconds
func FormatManifestTimestamp(t time.Time) string {
	return t.UTC().Format(manifestTimeLayout)
}

// SnapshotID derives the file-system safe snapshot name from t, e.g.
// 2024-01-15T10-30-00-000Z
func SnapshotID(t time.Time) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(FormatManifestTimestamp(t))
}
