package recovery

import (
	"context"
	"time"

	"sitekeeper/internal/backup"
	"sitekeeper/internal/execution"
	"sitekeeper/internal/logging"
)

// RebuildOptions configures the post-restore install and build steps. An
// empty argv skips that step.
type RebuildOptions struct {
	Install        []string
	Build          []string
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
}

// Rebuilder regenerates dependencies and build output after a restore
type Rebuilder struct {
	opts   RebuildOptions
	dir    string
	runner execution.CommandRunner
	logger *logging.Logger
}

// NewRebuilder creates a rebuilder running in projectRoot
func NewRebuilder(opts RebuildOptions, projectRoot string, runner execution.CommandRunner, logger *logging.Logger) *Rebuilder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Rebuilder{opts: opts, dir: projectRoot, runner: runner, logger: logger}
}

// Rebuild runs the install step and then the build step, streaming their
// output. The first failure stops the rebuild.
func (r *Rebuilder) Rebuild(ctx context.Context) error {
	steps := []struct {
		name    string
		argv    []string
		timeout time.Duration
	}{
		{"install", r.opts.Install, r.opts.InstallTimeout},
		{"build", r.opts.Build, r.opts.BuildTimeout},
	}

	for _, step := range steps {
		if len(step.argv) == 0 {
			r.logger.WithField("step", step.name).Debug("Rebuild step not configured, skipping")
			continue
		}

		command := execution.Command{
			Name:    step.argv[0],
			Args:    step.argv[1:],
			Dir:     r.dir,
			Timeout: step.timeout,
			Stream:  true,
		}
		r.logger.WithFields(map[string]interface{}{
			"step":    step.name,
			"command": command.String(),
		}).Info("Running rebuild step")

		if _, err := r.runner.Run(ctx, command); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return backup.NewSubprocessError("Rebuild "+step.name+" failed", err).
				WithContext("command", command.String())
		}
	}
	return nil
}
