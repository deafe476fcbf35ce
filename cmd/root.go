package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sitekeeper/internal/application"
	"sitekeeper/internal/config"
	appErrors "sitekeeper/internal/errors"
	"sitekeeper/internal/execution"
)

// Version information (set by SetVersionInfo)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// rootOptions holds the persistent flags
type rootOptions struct {
	cfgFile     string
	projectRoot string
	verbose     bool
	quiet       bool
	logFile     string
	logFormat   string

	noColor      bool
	noIcons      bool
	noProgress   bool
	theme        string
	outputFormat string
}

// cli carries the state of one command-line invocation
type cli struct {
	opts   rootOptions
	viper  *viper.Viper
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	runner execution.CommandRunner

	// interactive is set when stdin is a terminal
	interactive bool
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer, runner execution.CommandRunner) *cli {
	return &cli{
		viper:  viper.New(),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		runner: runner,
	}
}

// newRootCommand builds the command tree
func (c *cli) newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitekeeper",
		Short: "Snapshot and recover a statically built website",
		Long: `sitekeeper captures a website checkout (content, configuration and build
artifacts) into a single checksummed archive, and restores the project from
such an archive after verifying every file against its manifest.

Examples:
  # Create a snapshot in the configured backups directory
  sitekeeper backup

  # Restore the project from a snapshot and rebuild it
  sitekeeper recover backups/backup-2024-01-15T10-30-00-000Z.tar.gz

  # Check an archive without touching the project
  sitekeeper verify backup-2024-01-15T10-30-00-000Z.tar.gz

  # Show the embedded manifest as JSON
  sitekeeper inspect backup-2024-01-15T10-30-00-000Z.tar.gz --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.validateFlags(); err != nil {
				return err
			}
			return c.initConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.opts.cfgFile, "config", "", "config file (default is ./.sitekeeper.yaml or $HOME/.sitekeeper.yaml)")
	flags.StringVarP(&c.opts.projectRoot, "project-root", "C", "", "website project root (default is the current directory)")
	flags.BoolVarP(&c.opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&c.opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&c.opts.logFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&c.opts.logFormat, "log-format", "", "log format (text, json)")

	// Display flags
	flags.BoolVar(&c.opts.noColor, "no-color", false, "disable color output")
	flags.BoolVar(&c.opts.noIcons, "no-icons", false, "disable Unicode icons")
	flags.BoolVar(&c.opts.noProgress, "no-progress", false, "disable phase progress output")
	flags.StringVar(&c.opts.theme, "theme", "", "color theme (dark, light, high-contrast, plain)")
	flags.StringVar(&c.opts.outputFormat, "format", "", "output format (table, json, yaml)")

	// Bind flags to viper
	c.viper.BindPFlag("project.root", flags.Lookup("project-root"))
	c.viper.BindPFlag("logging.file", flags.Lookup("log-file"))
	c.viper.BindPFlag("logging.format", flags.Lookup("log-format"))
	c.viper.BindPFlag("display.theme", flags.Lookup("theme"))
	c.viper.BindPFlag("display.output_format", flags.Lookup("format"))

	rootCmd.SetUsageTemplate(getUsageTemplate())
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return appErrors.NewUsageError(err.Error())
	})

	rootCmd.AddCommand(c.newBackupCommand())
	rootCmd.AddCommand(c.newRecoverCommand())
	rootCmd.AddCommand(c.newVerifyCommand())
	rootCmd.AddCommand(c.newInspectCommand())
	rootCmd.AddCommand(c.newListCommand())
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())

	return rootCmd
}

// Execute runs the command line and returns the process exit code.
// This is called by main.main().
func Execute() int {
	c := newCLI(os.Stdin, os.Stdout, os.Stderr, nil)
	c.interactive = isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return c.run(os.Args[1:])
}

func (c *cli) run(args []string) int {
	rootCmd := c.newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(c.stdin)
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	if !application.IsReported(err) {
		fmt.Fprintf(c.stderr, "Error: %s\n", appErrors.FormatUserError(err))
	}
	return appErrors.ExitCode(err)
}

// validateFlags validates CLI flags and their combinations
func (c *cli) validateFlags() error {
	if c.opts.verbose && c.opts.quiet {
		return appErrors.NewUsageError("--verbose and --quiet cannot be used together")
	}
	return nil
}

// initConfig reads in config file and ENV variables if set
func (c *cli) initConfig() error {
	v := c.viper
	config.RegisterDefaults(v)

	if c.opts.cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(c.opts.cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".sitekeeper")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.opts.cfgFile != "" || !errors.As(err, &notFound) {
			return appErrors.NewAppError(appErrors.ErrorTypeConfiguration,
				fmt.Sprintf("failed to read config file: %v", err), err)
		}
	} else if c.opts.verbose {
		fmt.Fprintln(c.stderr, "Using config file:", v.ConfigFileUsed())
	}
	return nil
}

// buildConfig decodes viper state and applies the boolean flag overrides
func (c *cli) buildConfig() (*config.Config, error) {
	cfg, err := config.Load(c.viper)
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeConfiguration, err.Error(), err)
	}

	if c.opts.verbose {
		cfg.Logging.Level = "verbose"
	}
	if c.opts.quiet {
		cfg.Logging.Level = "quiet"
		cfg.Display.QuietMode = true
	}
	if c.opts.noColor {
		cfg.Display.ColorEnabled = false
	}
	if c.opts.noIcons {
		cfg.Display.UseIcons = false
	}
	if c.opts.noProgress {
		cfg.Display.ShowProgress = false
	}
	return cfg, nil
}

// newApplication loads configuration and creates the application
func (c *cli) newApplication() (*application.Application, error) {
	cfg, err := c.buildConfig()
	if err != nil {
		return nil, err
	}
	return application.NewApplication(cfg, application.Options{
		Stdin:       c.stdin,
		Stdout:      c.stdout,
		Stderr:      c.stderr,
		Runner:      c.runner,
		Interactive: c.interactive,
	})
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for sitekeeper",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sitekeeper version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

The template contains every option with its default value. Redirect it to a
file and customize it for your project.

Examples:
  sitekeeper config > .sitekeeper.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.SampleYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// getUsageTemplate returns a custom usage template with examples
func getUsageTemplate() string {
	return `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
}
