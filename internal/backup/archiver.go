package backup

import (
	"archive/tar"
	"context"
	"errors"
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

// ArchiveMethod selects how the staging root is packed
type ArchiveMethod string

const (
	// ArchiveMethodNative writes the tar stream in-process
	ArchiveMethodNative ArchiveMethod = "native"
	// ArchiveMethodTar shells out to the system tar utility (gzip only)
	ArchiveMethodTar ArchiveMethod = "tar"
)

// ParseArchiveMethod parses an archive method name
func ParseArchiveMethod(name string) (ArchiveMethod, error) {
	switch ArchiveMethod(strings.ToLower(strings.TrimSpace(name))) {
	case ArchiveMethodNative, "":
		return ArchiveMethodNative, nil
	case ArchiveMethodTar:
		return ArchiveMethodTar, nil
	default:
		return "", NewConfigurationError(fmt.Sprintf("unsupported archive method: %s", name), nil)
	}
}

// ArchiveOptions configures the archiver
type ArchiveOptions struct {
	Method      ArchiveMethod
	Compression CompressionType
	Level       int
	TarCommand  string
	Timeout     time.Duration
}

// Archiver packs a staging root into a single compressed tar archive whose
// only top-level directory is the staging root's base name
type Archiver struct {
	opts        ArchiveOptions
	compression *CompressionManager
	runner      execution.CommandRunner
	logger      *logging.Logger
}

// NewArchiver creates a new archiver
func NewArchiver(opts ArchiveOptions, runner execution.CommandRunner, logger *logging.Logger) *Archiver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.Method == "" {
		opts.Method = ArchiveMethodNative
	}
	if opts.Compression == "" {
		opts.Compression = CompressionTypeGzip
	}
	if opts.TarCommand == "" {
		opts.TarCommand = "tar"
	}
	return &Archiver{
		opts:        opts,
		compression: NewCompressionManager(),
		runner:      runner,
		logger:      logger,
	}
}

// ArchiveName returns the archive file name for a snapshot
func (a *Archiver) ArchiveName(snapshotID string) string {
	return ArchivePrefix + snapshotID + a.opts.Compression.Extension()
}

// Archive writes stagingRoot to archivePath and returns the archive size.
// An existing archivePath is never overwritten. On failure the partial
// archive is removed; stagingRoot is never touched.
func (a *Archiver) Archive(ctx context.Context, stagingRoot, archivePath string) (int64, error) {
	switch a.opts.Method {
	case ArchiveMethodTar:
		if err := a.archiveWithTar(ctx, stagingRoot, archivePath); err != nil {
			return 0, err
		}
	default:
		if err := a.archiveNative(ctx, stagingRoot, archivePath); err != nil {
			return 0, err
		}
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return 0, NewFilesystemError("Archive was not created", err).WithContext("archive", archivePath)
	}
	a.logger.WithFields(map[string]interface{}{
		"archive":     archivePath,
		"size":        info.Size(),
		"method":      string(a.opts.Method),
		"compression": string(a.opts.Compression),
	}).Debug("Archive written")
	return info.Size(), nil
}

func (a *Archiver) archiveNative(ctx context.Context, stagingRoot, archivePath string) (err error) {
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return NewFilesystemError(fmt.Sprintf("Archive already exists: %s", archivePath), err)
		}
		return NewFilesystemError("Failed to create archive", err).WithContext("archive", archivePath)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(archivePath)
		}
	}()

	codec, err := a.compression.NewWriter(f, a.opts.Compression, a.opts.Level)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(codec)
	if err := writeTree(ctx, tw, stagingRoot); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewFilesystemError("Failed to write archive", err).WithContext("staging_dir", stagingRoot)
	}
	if err := tw.Close(); err != nil {
		return NewCompressionError("Failed to finish tar stream", err)
	}
	if err := codec.Close(); err != nil {
		return NewCompressionError(fmt.Sprintf("Failed to finish %s stream", a.opts.Compression), err)
	}
	if err := f.Close(); err != nil {
		return NewFilesystemError("Failed to close archive", err)
	}
	return nil
}

// writeTree adds root and everything below it, with entry names prefixed by
// the base name of root
func writeTree(ctx context.Context, tw *tar.Writer, root string) error {
	base := filepath.Base(root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = base + "/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if d.IsDir() {
			header.Name += "/"
		}
		header.Uid, header.Gid = 0, 0
		header.Uname, header.Gname = "", ""

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

func (a *Archiver) archiveWithTar(ctx context.Context, stagingRoot, archivePath string) error {
	if a.opts.Compression != CompressionTypeGzip {
		return NewConfigurationError("the tar archive method only supports gzip compression", nil)
	}
	if _, err := os.Stat(archivePath); err == nil {
		return NewFilesystemError(fmt.Sprintf("Archive already exists: %s", archivePath), fs.ErrExist)
	}

	command := execution.Command{
		Name:    a.opts.TarCommand,
		Args:    []string{"-czf", archivePath, "-C", filepath.Dir(stagingRoot), filepath.Base(stagingRoot)},
		Timeout: a.opts.Timeout,
	}
	result, err := a.runner.Run(ctx, command)
	if err != nil {
		os.Remove(archivePath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		subErr := NewSubprocessError("Archiver failed", err).WithContext("command", command.String())
		if result != nil {
			subErr.WithContext("exit_code", result.ExitCode)
		}
		return subErr
	}
	return nil
}

// ArchiveReader streams the entries of a snapshot archive of any supported codec
type ArchiveReader struct {
	file        *os.File
	decoder     io.ReadCloser
	tar         *tar.Reader
	Compression CompressionType
}

// OpenArchive opens path and detects its codec
func OpenArchive(path string) (*ArchiveReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewMissingInputError(fmt.Sprintf("Backup file not found: %s", path), err)
		}
		return nil, NewFilesystemError("Failed to open archive", err).WithContext("archive", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, NewFilesystemError("Failed to open archive", err).WithContext("archive", path)
	}
	if info.IsDir() {
		f.Close()
		return nil, NewInvalidContainerError(fmt.Sprintf("%s is a directory, not an archive", path), nil)
	}

	decoder, algorithm, err := NewCompressionManager().OpenReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &ArchiveReader{
		file:        f,
		decoder:     decoder,
		tar:         tar.NewReader(decoder),
		Compression: algorithm,
	}, nil
}

// Next advances to the next entry; it returns io.EOF at the end of the archive
func (r *ArchiveReader) Next() (*tar.Header, error) {
	header, err := r.tar.Next()
	if err != nil && err != io.EOF {
		return nil, NewInvalidContainerError("Archive is corrupt or truncated", err)
	}
	return header, err
}

// Read reads from the current entry
func (r *ArchiveReader) Read(p []byte) (int, error) {
	n, err := r.tar.Read(p)
	if err != nil && err != io.EOF {
		return n, NewInvalidContainerError("Archive is corrupt or truncated", err)
	}
	return n, err
}

// Drain reads the rest of the compressed stream so the codec's trailing
// checksum is verified
func (r *ArchiveReader) Drain() error {
	if _, err := io.Copy(io.Discard, r.decoder); err != nil {
		return NewInvalidContainerError("Archive is corrupt or truncated", err)
	}
	return nil
}

// Close releases the decoder and the file
func (r *ArchiveReader) Close() error {
	r.decoder.Close()
	return r.file.Close()
}
