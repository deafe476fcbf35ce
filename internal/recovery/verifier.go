package recovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/logging"
)

// VerificationResult counts the outcome of checking extracted files
// against the manifest
type VerificationResult struct {
	VerifiedCount int      `json:"verifiedCount" yaml:"verifiedCount"`
	FailedCount   int      `json:"failedCount" yaml:"failedCount"`
	MissingCount  int      `json:"missingCount" yaml:"missingCount"`
	FailedPaths   []string `json:"failedPaths,omitempty" yaml:"failedPaths,omitempty"`
	MissingPaths  []string `json:"missingPaths,omitempty" yaml:"missingPaths,omitempty"`
}

// Passed reports whether no file failed verification
func (r *VerificationResult) Passed() bool {
	return r.FailedCount == 0
}

// Err returns the integrity error for a failed verification, or nil
func (r *VerificationResult) Err() error {
	if r.Passed() {
		return nil
	}
	return backup.NewIntegrityError(fmt.Sprintf("Backup integrity check failed: %d files corrupted", r.FailedCount), nil).
		WithContext("failed_paths", r.FailedPaths)
}

// Verifier recomputes digests of extracted files
type Verifier struct {
	logger *logging.Logger
}

// NewVerifier creates a new integrity verifier
func NewVerifier(logger *logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Verifier{logger: logger}
}

// Verify checks every manifest checksum against the files under root.
// Files the manifest lists but the extraction lacks are counted as missing,
// not failed. Manifest paths that escape root, or that are not regular
// files, count as failed.
func (v *Verifier) Verify(ctx context.Context, root string, manifest *backup.Manifest) (*VerificationResult, error) {
	result := &VerificationResult{}

	for _, rel := range manifest.SortedChecksumPaths() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		expected := manifest.Checksums[rel]

		path, ok := backup.ContainedPath(root, rel)
		if !ok || rel == backup.ManifestFileName {
			v.fail(result, rel, expected, "invalid path")
			continue
		}

		info, err := os.Lstat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				result.MissingCount++
				result.MissingPaths = append(result.MissingPaths, rel)
				continue
			}
			return result, backup.NewFilesystemError(fmt.Sprintf("Failed to inspect %s", rel), err)
		}
		if !info.Mode().IsRegular() {
			v.fail(result, rel, expected, "not a regular file")
			continue
		}

		actual, err := backup.FileChecksum(path)
		if err != nil {
			return result, backup.NewFilesystemError(fmt.Sprintf("Failed to read %s", rel), err)
		}
		if !backup.ChecksumsEqual(actual, expected) {
			v.fail(result, rel, expected, actual)
			continue
		}
		result.VerifiedCount++
	}

	if result.MissingCount > 0 {
		v.logger.WithFields(map[string]interface{}{
			"missing": result.MissingCount,
			"paths":   result.MissingPaths,
		}).Warn("Manifest lists files that are not in the archive")
	}
	v.logger.WithFields(map[string]interface{}{
		"verified": result.VerifiedCount,
		"failed":   result.FailedCount,
		"missing":  result.MissingCount,
	}).Debug("Integrity verification finished")

	return result, nil
}

func (v *Verifier) fail(result *VerificationResult, rel, expected, actual string) {
	result.FailedCount++
	result.FailedPaths = append(result.FailedPaths, rel)
	v.logger.LogChecksumMismatch(rel, expected, actual)
}
