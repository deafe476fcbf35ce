package recovery

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/logging"
)

// Workspace is the extraction target of one recovery run
type Workspace struct {
	// Dir is the temporary directory created for the run
	Dir string
	// Root is the single top-level directory found inside Dir
	Root     string
	Manifest *backup.Manifest
}

// Remove deletes the workspace directory
func (w *Workspace) Remove() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}

// Extractor unpacks a validated archive into a fresh workspace
type Extractor struct {
	parentDir string
	logger    *logging.Logger
}

// NewExtractor creates an extractor that makes workspaces under parentDir,
// or under the system temporary directory when parentDir is empty
func NewExtractor(parentDir string, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Extractor{parentDir: parentDir, logger: logger}
}

// Extract unpacks archivePath and loads its manifest. When a workspace was
// created it is returned even on error so the caller can keep or remove it.
func (e *Extractor) Extract(ctx context.Context, archivePath string) (*Workspace, error) {
	if e.parentDir != "" {
		if err := os.MkdirAll(e.parentDir, 0755); err != nil {
			return nil, backup.NewFilesystemError("Failed to create workspace directory", err).WithContext("workspace_dir", e.parentDir)
		}
	}
	dir, err := os.MkdirTemp(e.parentDir, "recovery-*")
	if err != nil {
		return nil, backup.NewFilesystemError("Failed to create recovery workspace", err)
	}
	ws := &Workspace{Dir: dir}

	reader, err := backup.OpenArchive(archivePath)
	if err != nil {
		return ws, err
	}
	defer reader.Close()

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return ws, err
		}
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ws, err
		}

		name, err := entryName(header)
		if err != nil {
			return ws, err
		}
		target, ok := backup.ContainedPath(dir, name)
		if !ok {
			return ws, backup.NewInvalidContainerError(fmt.Sprintf("Archive contains an unsafe path: %q", header.Name), nil)
		}

		if err := writeEntry(reader, header, target); err != nil {
			if backup.ErrorType(err) != "" {
				return ws, err
			}
			return ws, backup.NewFilesystemError(fmt.Sprintf("Failed to extract %s", name), err).WithContext("workspace", dir)
		}
		count++
	}

	root, err := singleRoot(dir)
	if err != nil {
		return ws, err
	}
	ws.Root = root

	manifest, err := backup.LoadManifest(filepath.Join(root, backup.ManifestFileName))
	if err != nil {
		return ws, err
	}
	ws.Manifest = manifest

	e.logger.WithFields(map[string]interface{}{
		"archive":   archivePath,
		"workspace": dir,
		"entries":   count,
	}).Debug("Archive extracted")
	return ws, nil
}

func writeEntry(r io.Reader, header *tar.Header, target string) error {
	if header.Typeflag == tar.TypeDir {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := header.FileInfo().Mode().Perm() | 0600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, header.ModTime, header.ModTime)
}

// singleRoot finds the one top-level directory of an extraction
func singleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", backup.NewFilesystemError("Failed to read recovery workspace", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", backup.NewInvalidContainerError(
			fmt.Sprintf("Archive must contain exactly one top-level directory, found %d entries", len(entries)), nil)
	}
	return filepath.Join(dir, entries[0].Name()), nil
}
