package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies a regular file, creating parent directories and keeping
// the permission bits and modification time of src
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CopyTreeOptions controls CopyTree
type CopyTreeOptions struct {
	// Skip reports whether a path relative to the source root (slash
	// separated) should be left out; returning true for a directory prunes it
	Skip func(rel string, d fs.DirEntry) bool

	// OnFile is called after each file is copied
	OnFile func(src, dst string)
}

// CopyTree copies src (a file or a directory) to dst. Symlinks to regular
// files are copied as files; other symlinks and special files are skipped.
// It returns the number of files copied.
func CopyTree(ctx context.Context, src, dst string, opts CopyTreeOptions) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return 0, nil
		}
		if err := CopyFile(src, dst); err != nil {
			return 0, err
		}
		if opts.OnFile != nil {
			opts.OnFile(src, dst)
		}
		return 1, nil
	}

	copied := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && opts.Skip != nil && opts.Skip(filepath.ToSlash(rel), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0755)
		case d.Type()&fs.ModeSymlink != 0:
			resolved, err := os.Stat(path)
			if err != nil || !resolved.Mode().IsRegular() {
				return nil
			}
		case !d.Type().IsRegular():
			return nil
		}

		if err := CopyFile(path, target); err != nil {
			return err
		}
		copied++
		if opts.OnFile != nil {
			opts.OnFile(path, target)
		}
		return nil
	})
	return copied, err
}

// ContainedPath joins rel onto root and reports whether the result stays
// inside root
func ContainedPath(root, rel string) (string, bool) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", false
	}
	joined := filepath.Join(root, filepath.FromSlash(rel))
	relToRoot, err := filepath.Rel(root, joined)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}
