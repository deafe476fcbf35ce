package cmd

import (
	"github.com/spf13/cobra"
)

// newBackupCommand creates the backup subcommand
func (c *cli) newBackupCommand() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a snapshot archive of the website project",
		Long: `Copy the configured content, configuration and build artifact paths into a
staging directory, record a manifest with a SHA-256 checksum per file and pack
everything into one archive named after the snapshot time.

Missing source paths are skipped. When archiving fails the staging directory is
left in place for inspection.

Examples:
  # Snapshot into the configured backups directory
  sitekeeper backup

  # Snapshot somewhere else, as zstd
  SITEKEEPER_ARCHIVE_COMPRESSION=zstd sitekeeper backup --output-dir /mnt/snapshots`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApplication()
			if err != nil {
				return err
			}
			return app.RunBackup(cmd.Context(), outputDir)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "write the archive here instead of the configured backups directory")
	return cmd
}
