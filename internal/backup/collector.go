package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sitekeeper/internal/logging"
)

// SourceSet lists project-relative paths captured into each staging subtree
type SourceSet struct {
	Content   []string
	Config    []string
	Artifacts []string
}

// CollectStats describes what a collection pass copied
type CollectStats struct {
	FilesCopied int
	Skipped     []string
}

// Collector copies configured sources from the project root into a staging root
type Collector struct {
	projectRoot string
	sources     SourceSet
	logger      *logging.Logger
}

// NewCollector creates a new collector
func NewCollector(projectRoot string, sources SourceSet, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Collector{
		projectRoot: projectRoot,
		sources:     sources,
		logger:      logger,
	}
}

// Collect copies every existing source into stagingRoot under content/,
// config/ and artifacts/. Missing sources are skipped; any other filesystem
// error aborts and leaves stagingRoot as it is.
func (c *Collector) Collect(ctx context.Context, stagingRoot string) (*CollectStats, error) {
	stats := &CollectStats{}

	groups := []struct {
		dir   string
		paths []string
	}{
		{ContentDir, c.sources.Content},
		{ConfigDir, c.sources.Config},
		{ArtifactsDir, c.sources.Artifacts},
	}

	for _, group := range groups {
		for _, rel := range group.paths {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			src, ok := ContainedPath(c.projectRoot, rel)
			if !ok {
				return stats, NewConfigurationError(fmt.Sprintf("source path escapes the project root: %s", rel), nil)
			}
			dst := filepath.Join(stagingRoot, group.dir, filepath.FromSlash(rel))

			if _, err := os.Stat(src); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					c.logger.WithField("source", rel).Debug("Source not present, skipping")
					stats.Skipped = append(stats.Skipped, group.dir+"/"+filepath.ToSlash(rel))
					continue
				}
				return stats, NewFilesystemError(fmt.Sprintf("Failed to read source %s", rel), err)
			}

			n, err := CopyTree(ctx, src, dst, CopyTreeOptions{
				OnFile: func(from, to string) {
					c.logger.LogFileOperation("collect", from, to)
				},
			})
			stats.FilesCopied += n
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				return stats, NewFilesystemError(fmt.Sprintf("Failed to copy source %s", rel), err).
					WithContext("staging_dir", stagingRoot)
			}
			c.logger.WithFields(map[string]interface{}{
				"source": rel,
				"target": group.dir,
				"files":  n,
			}).Debug("Source collected")
		}
	}

	return stats, nil
}
