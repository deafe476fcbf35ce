package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sitekeeper/internal/application"
	"sitekeeper/internal/backup"
	appErrors "sitekeeper/internal/errors"
)

// archiveArg accepts exactly one archive argument. A missing argument is
// reported like a missing file.
func archiveArg(cmd *cobra.Command, args []string) error {
	switch {
	case len(args) == 0:
		return backup.NewMissingInputError("No backup file specified", nil)
	case len(args) > 1:
		return appErrors.NewUsageError(fmt.Sprintf("expected exactly one archive, got %d arguments", len(args)))
	}
	return nil
}

// newRecoverCommand creates the recover subcommand
func (c *cli) newRecoverCommand() *cobra.Command {
	var opts application.RecoverOptions

	cmd := &cobra.Command{
		Use:   "recover <archive>",
		Short: "Restore the project from a snapshot archive and rebuild it",
		Long: `Validate the archive, extract it into a temporary workspace and verify every
file against the manifest checksums. Only when all files verify are content,
build artifacts and configuration copied into the project. Existing
configuration files are kept next to the restored ones with a .backup suffix.
Finally the install and build commands are run.

When run from a terminal the restore plan is shown and must be confirmed
after verification; --yes skips the prompt. Non-interactive runs never prompt.

The build output directory is never restored from the archive; the rebuild
recreates it. The archive may be a path or a name from the backups directory.

Examples:
  sitekeeper recover backups/backup-2024-01-15T10-30-00-000Z.tar.gz
  sitekeeper recover backup-2024-01-15T10-30-00-000Z.tar.gz --skip-rebuild`,
		Args: archiveArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApplication()
			if err != nil {
				return err
			}
			return app.RunRecover(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipRebuild, "skip-rebuild", false, "do not run the install and build commands after restoring")
	cmd.Flags().BoolVarP(&opts.AutoApprove, "yes", "y", false, "restore without asking for confirmation")
	cmd.Flags().BoolVar(&opts.KeepWorkspace, "keep-workspace", false, "keep the extraction workspace after a successful recovery")
	return cmd
}
