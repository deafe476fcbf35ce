package recovery

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/logging"
)

// ArchiveListing is what a listing pass learned about an archive
type ArchiveListing struct {
	Path        string                 `json:"path" yaml:"path"`
	Compression backup.CompressionType `json:"compression" yaml:"compression"`
	Entries     int                    `json:"entries" yaml:"entries"`
	Files       int                    `json:"files" yaml:"files"`
	Root        string                 `json:"root" yaml:"root"`
}

// Validator checks an archive without extracting it
type Validator struct {
	logger *logging.Logger
}

// NewValidator creates a new archive validator
func NewValidator(logger *logging.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Validator{logger: logger}
}

// Validate confirms that archivePath exists and is a readable snapshot
// archive: a supported codec around a tar stream whose entries all live under
// one top-level directory containing manifest.json. Link, device and
// path-escaping entries make the archive invalid.
func (v *Validator) Validate(ctx context.Context, archivePath string) (*ArchiveListing, error) {
	if strings.TrimSpace(archivePath) == "" {
		return nil, backup.NewMissingInputError("No backup file specified", nil)
	}

	reader, err := backup.OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	listing := &ArchiveListing{
		Path:        archivePath,
		Compression: reader.Compression,
	}
	topLevel := make(map[string]bool)
	hasManifest := false

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
		listing.Entries++
		if header.Typeflag == tar.TypeReg {
			listing.Files++
		}

		top, rest, _ := strings.Cut(name, "/")
		topLevel[top] = true
		if rest == "" && header.Typeflag == tar.TypeReg {
			return nil, backup.NewInvalidContainerError(fmt.Sprintf("Archive has a file at its top level: %s", name), nil)
		}
		if rest == backup.ManifestFileName && header.Typeflag == tar.TypeReg {
			hasManifest = true
		}
	}
	if err := reader.Drain(); err != nil {
		return nil, err
	}

	if len(topLevel) != 1 {
		names := make([]string, 0, len(topLevel))
		for name := range topLevel {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, backup.NewInvalidContainerError(
			fmt.Sprintf("Archive must contain exactly one top-level directory, found %d", len(topLevel)), nil).
			WithContext("top_level", names)
	}
	for name := range topLevel {
		listing.Root = name
	}
	if !hasManifest {
		return nil, backup.NewInvalidContainerError(fmt.Sprintf("Archive has no %s", backup.ManifestFileName), nil)
	}

	v.logger.WithFields(map[string]interface{}{
		"archive":     archivePath,
		"compression": string(listing.Compression),
		"entries":     listing.Entries,
		"root":        listing.Root,
	}).Debug("Archive validated")

	return listing, nil
}

// entryName returns the cleaned, slash separated name of a tar entry, or an
// InvalidContainer error for entries that could escape the extraction
// directory or are not plain files and directories
func entryName(header *tar.Header) (string, error) {
	switch header.Typeflag {
	case tar.TypeReg, tar.TypeDir:
	case tar.TypeXGlobalHeader:
		return "", backup.NewInvalidContainerError("Archive contains an unexpected global header", nil)
	default:
		return "", backup.NewInvalidContainerError(
			fmt.Sprintf("Archive contains an unsupported entry type for %s", header.Name), nil)
	}

	raw := header.Name
	if raw == "" || path.IsAbs(raw) || strings.Contains(raw, `\`) {
		return "", backup.NewInvalidContainerError(fmt.Sprintf("Archive contains an unsafe path: %q", raw), nil)
	}
	name := path.Clean(strings.TrimPrefix(raw, "./"))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", backup.NewInvalidContainerError(fmt.Sprintf("Archive contains an unsafe path: %q", raw), nil)
	}
	return name, nil
}
