package cmd

import (
	"github.com/spf13/cobra"
)

// newVerifyCommand creates the verify subcommand
func (c *cli) newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive>",
		Short: "Check an archive against its manifest without restoring it",
		Long: `Run the validation, extraction and checksum verification steps of a recovery
without modifying the project. Exits non-zero if any file is corrupted.`,
		Args: archiveArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApplication()
			if err != nil {
				return err
			}
			return app.RunVerify(cmd.Context(), args[0])
		},
	}
}

// newInspectCommand creates the inspect subcommand
func (c *cli) newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print the manifest embedded in an archive",
		Long: `Read manifest.json straight from the archive stream and print it. Nothing is
written to disk. Use --format json or --format yaml for machine-readable output.`,
		Args: archiveArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApplication()
			if err != nil {
				return err
			}
			return app.RunInspect(cmd.Context(), args[0])
		},
	}
}

// newListCommand creates the list subcommand
func (c *cli) newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List archives in the backups directory, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApplication()
			if err != nil {
				return err
			}
			return app.RunList(cmd.Context())
		},
	}
}
