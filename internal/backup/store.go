package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ArchiveInfo describes one archive file in the backups directory
type ArchiveInfo struct {
	Name        string          `json:"name" yaml:"name"`
	Path        string          `json:"path" yaml:"path"`
	Size        int64           `json:"size" yaml:"size"`
	Modified    time.Time       `json:"modified" yaml:"modified"`
	Compression CompressionType `json:"compression" yaml:"compression"`
}

// ArchiveStore lists the archives kept in a local backups directory
type ArchiveStore struct {
	basePath string
}

// NewArchiveStore creates a store rooted at basePath
func NewArchiveStore(basePath string) *ArchiveStore {
	return &ArchiveStore{basePath: basePath}
}

// GetBasePath returns the backups directory
func (s *ArchiveStore) GetBasePath() string {
	return s.basePath
}

// List returns the archives in the backups directory, newest first. A missing
// directory yields an empty list.
func (s *ArchiveStore) List(ctx context.Context) ([]ArchiveInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ArchiveInfo{}, nil
		}
		return nil, NewFilesystemError("Failed to list backups directory", err).WithContext("backups_dir", s.basePath)
	}

	archives := []ArchiveInfo{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		compression, ok := archiveCompression(entry.Name())
		if !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed while listing
			continue
		}
		archives = append(archives, ArchiveInfo{
			Name:        entry.Name(),
			Path:        filepath.Join(s.basePath, entry.Name()),
			Size:        info.Size(),
			Modified:    info.ModTime(),
			Compression: compression,
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		if archives[i].Modified.Equal(archives[j].Modified) {
			return archives[i].Name > archives[j].Name
		}
		return archives[i].Modified.After(archives[j].Modified)
	})
	return archives, nil
}

// Resolve maps an archive name from the backups directory to its path.
// Anything that looks like a path is returned unchanged.
func (s *ArchiveStore) Resolve(nameOrPath string) string {
	if strings.ContainsRune(nameOrPath, filepath.Separator) || strings.Contains(nameOrPath, "/") {
		return nameOrPath
	}
	if _, err := os.Stat(nameOrPath); err == nil {
		return nameOrPath
	}
	candidate := filepath.Join(s.basePath, nameOrPath)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return nameOrPath
}

// Latest returns the newest archive
func (s *ArchiveStore) Latest(ctx context.Context) (*ArchiveInfo, error) {
	archives, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, NewMissingInputError(fmt.Sprintf("No backups found in %s", s.basePath), nil)
	}
	return &archives[0], nil
}

func archiveCompression(name string) (CompressionType, bool) {
	if !strings.HasPrefix(name, ArchivePrefix) {
		return "", false
	}
	for _, c := range []CompressionType{CompressionTypeGzip, CompressionTypeZstd, CompressionTypeLZ4} {
		if strings.HasSuffix(name, c.Extension()) {
			return c, true
		}
	}
	return "", false
}
