package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sitekeeper/internal/display"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// SITEKEEPER_ARCHIVE_COMPRESSION=zstd
const EnvPrefix = "SITEKEEPER"

// Config holds the complete sitekeeper configuration
type Config struct {
	Project  ProjectConfig         `mapstructure:"project" yaml:"project"`
	Sources  SourcesConfig         `mapstructure:"sources" yaml:"sources"`
	Archive  ArchiveConfig         `mapstructure:"archive" yaml:"archive"`
	Restore  RestoreConfig         `mapstructure:"restore" yaml:"restore"`
	VCS      VCSConfig             `mapstructure:"vcs" yaml:"vcs"`
	Rebuild  RebuildConfig         `mapstructure:"rebuild" yaml:"rebuild"`
	Timeouts TimeoutConfig         `mapstructure:"timeouts" yaml:"timeouts"`
	Logging  LoggingConfig         `mapstructure:"logging" yaml:"logging"`
	Display  display.DisplayConfig `mapstructure:"display" yaml:"display"`
}

// ProjectConfig describes the website checkout being protected
type ProjectConfig struct {
	Root               string `mapstructure:"root" yaml:"root"`
	MetadataFile       string `mapstructure:"metadata_file" yaml:"metadata_file"`
	EnvironmentVar     string `mapstructure:"environment_var" yaml:"environment_var"`
	DefaultEnvironment string `mapstructure:"default_environment" yaml:"default_environment"`
}

// SourcesConfig lists project-relative paths captured by a backup
type SourcesConfig struct {
	Content   []string `mapstructure:"content" yaml:"content"`
	Config    []string `mapstructure:"config" yaml:"config"`
	Artifacts []string `mapstructure:"artifacts" yaml:"artifacts"`
}

// ArchiveConfig defines where and how archives are written
type ArchiveConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Compression string `mapstructure:"compression" yaml:"compression"`
	Level       int    `mapstructure:"level" yaml:"level"`
	Method      string `mapstructure:"method" yaml:"method"`
}

// RestoreConfig defines recovery behaviour
type RestoreConfig struct {
	BuildOutput   string `mapstructure:"build_output" yaml:"build_output"`
	BackupSuffix  string `mapstructure:"backup_suffix" yaml:"backup_suffix"`
	WorkspaceDir  string `mapstructure:"workspace_dir" yaml:"workspace_dir"`
	KeepWorkspace bool   `mapstructure:"keep_workspace" yaml:"keep_workspace"`
}

// VCSConfig defines how revision metadata is captured
type VCSConfig struct {
	Command   string   `mapstructure:"command" yaml:"command"`
	CommitEnv []string `mapstructure:"commit_env" yaml:"commit_env"`
	BranchEnv []string `mapstructure:"branch_env" yaml:"branch_env"`
}

// RebuildConfig defines the install and build commands run after a restore
type RebuildConfig struct {
	Install []string `mapstructure:"install" yaml:"install"`
	Build   []string `mapstructure:"build" yaml:"build"`
	Skip    bool     `mapstructure:"skip" yaml:"skip"`
}

// TimeoutConfig bounds every external command
type TimeoutConfig struct {
	VCS     time.Duration `mapstructure:"vcs" yaml:"vcs"`
	Archive time.Duration `mapstructure:"archive" yaml:"archive"`
	Install time.Duration `mapstructure:"install" yaml:"install"`
	Build   time.Duration `mapstructure:"build" yaml:"build"`
}

// LoggingConfig defines log output
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Format   string `mapstructure:"format" yaml:"format"`
	File     string `mapstructure:"file" yaml:"file"`
	AuditLog string `mapstructure:"audit_log" yaml:"audit_log"`
}

// Default returns the configuration for a Next.js checkout in the working directory
func Default() *Config {
	displayConfig := display.DefaultDisplayConfig()
	displayConfig.Writer = nil

	return &Config{
		Project: ProjectConfig{
			Root:               ".",
			MetadataFile:       "package.json",
			EnvironmentVar:     "NODE_ENV",
			DefaultEnvironment: "development",
		},
		Sources: SourcesConfig{
			Content: []string{"src", "content", "messages", "public"},
			Config: []string{
				"package.json",
				"package-lock.json",
				"next.config.js",
				"next.config.mjs",
				"tsconfig.json",
				"tailwind.config.js",
				"postcss.config.js",
				"vercel.json",
				".env",
				".env.local",
				".env.production",
			},
			Artifacts: []string{".next", "reports"},
		},
		Archive: ArchiveConfig{
			Dir:         "backups",
			Compression: "gzip",
			Method:      "native",
		},
		Restore: RestoreConfig{
			BuildOutput:  ".next",
			BackupSuffix: ".backup",
		},
		VCS: VCSConfig{
			Command:   "git",
			CommitEnv: []string{"VERCEL_GIT_COMMIT_SHA"},
			BranchEnv: []string{"VERCEL_GIT_COMMIT_REF"},
		},
		Rebuild: RebuildConfig{
			Install: []string{"npm", "install"},
			Build:   []string{"npm", "run", "build"},
		},
		Timeouts: TimeoutConfig{
			VCS:     10 * time.Second,
			Archive: 10 * time.Minute,
			Install: 15 * time.Minute,
			Build:   15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "normal",
			Format: "text",
		},
		Display: *displayConfig,
	}
}

// RegisterDefaults registers every default with viper so that environment
// variables are picked up for keys that never appear in a config file
func RegisterDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("project.root", d.Project.Root)
	v.SetDefault("project.metadata_file", d.Project.MetadataFile)
	v.SetDefault("project.environment_var", d.Project.EnvironmentVar)
	v.SetDefault("project.default_environment", d.Project.DefaultEnvironment)

	v.SetDefault("sources.content", d.Sources.Content)
	v.SetDefault("sources.config", d.Sources.Config)
	v.SetDefault("sources.artifacts", d.Sources.Artifacts)

	v.SetDefault("archive.dir", d.Archive.Dir)
	v.SetDefault("archive.compression", d.Archive.Compression)
	v.SetDefault("archive.level", d.Archive.Level)
	v.SetDefault("archive.method", d.Archive.Method)

	v.SetDefault("restore.build_output", d.Restore.BuildOutput)
	v.SetDefault("restore.backup_suffix", d.Restore.BackupSuffix)
	v.SetDefault("restore.workspace_dir", d.Restore.WorkspaceDir)
	v.SetDefault("restore.keep_workspace", d.Restore.KeepWorkspace)

	v.SetDefault("vcs.command", d.VCS.Command)
	v.SetDefault("vcs.commit_env", d.VCS.CommitEnv)
	v.SetDefault("vcs.branch_env", d.VCS.BranchEnv)

	v.SetDefault("rebuild.install", d.Rebuild.Install)
	v.SetDefault("rebuild.build", d.Rebuild.Build)
	v.SetDefault("rebuild.skip", d.Rebuild.Skip)

	v.SetDefault("timeouts.vcs", d.Timeouts.VCS)
	v.SetDefault("timeouts.archive", d.Timeouts.Archive)
	v.SetDefault("timeouts.install", d.Timeouts.Install)
	v.SetDefault("timeouts.build", d.Timeouts.Build)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.audit_log", d.Logging.AuditLog)

	v.SetDefault("display.color_enabled", d.Display.ColorEnabled)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.output_format", d.Display.OutputFormat)
	v.SetDefault("display.use_icons", d.Display.UseIcons)
	v.SetDefault("display.show_progress", d.Display.ShowProgress)
	v.SetDefault("display.quiet", d.Display.QuietMode)
	v.SetDefault("display.max_table_width", d.Display.MaxTableWidth)
}

// Load decodes the viper state into a validated Config. Defaults come from
// RegisterDefaults, so v should have been prepared with it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills in values left empty by the config file
func (c *Config) SetDefaults() {
	d := Default()

	if c.Project.Root == "" {
		c.Project.Root = d.Project.Root
	}
	if c.Project.MetadataFile == "" {
		c.Project.MetadataFile = d.Project.MetadataFile
	}
	if c.Project.DefaultEnvironment == "" {
		c.Project.DefaultEnvironment = d.Project.DefaultEnvironment
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = d.Archive.Dir
	}
	c.Archive.Compression = strings.ToLower(c.Archive.Compression)
	if c.Archive.Compression == "" {
		c.Archive.Compression = d.Archive.Compression
	}
	if c.Archive.Method == "" {
		c.Archive.Method = d.Archive.Method
	}
	if c.Restore.BackupSuffix == "" {
		c.Restore.BackupSuffix = d.Restore.BackupSuffix
	}
	if c.VCS.Command == "" {
		c.VCS.Command = d.VCS.Command
	}
	if c.Timeouts.VCS == 0 {
		c.Timeouts.VCS = d.Timeouts.VCS
	}
	if c.Timeouts.Archive == 0 {
		c.Timeouts.Archive = d.Timeouts.Archive
	}
	if c.Timeouts.Install == 0 {
		c.Timeouts.Install = d.Timeouts.Install
	}
	if c.Timeouts.Build == 0 {
		c.Timeouts.Build = d.Timeouts.Build
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	c.Rebuild.Install = splitCommand(c.Rebuild.Install)
	c.Rebuild.Build = splitCommand(c.Rebuild.Build)
	c.Display.SetDefaults()
}

// splitCommand turns a single "npm run build" element, as produced by an
// environment override, into argv form
func splitCommand(argv []string) []string {
	if len(argv) == 1 && strings.ContainsAny(argv[0], " \t") {
		return strings.Fields(argv[0])
	}
	return argv
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if err := c.Sources.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sources: %w", err))
	}
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	if err := c.Restore.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("restore: %w", err))
	}
	if err := c.Rebuild.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rebuild: %w", err))
	}
	if err := c.Timeouts.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Display.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// Validate validates the source lists
func (sc *SourcesConfig) Validate() error {
	if len(sc.Content)+len(sc.Config)+len(sc.Artifacts) == 0 {
		return errors.New("at least one source path is required")
	}
	for _, group := range [][]string{sc.Content, sc.Config, sc.Artifacts} {
		for _, p := range group {
			if err := validateRelativePath(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate validates the archive configuration
func (ac *ArchiveConfig) Validate() error {
	switch ac.Compression {
	case "gzip":
		if ac.Level < -1 || ac.Level > 9 {
			return errors.New("gzip compression level must be between 1 and 9 (0 selects the default)")
		}
	case "zstd":
		if ac.Level < 0 || ac.Level > 22 {
			return errors.New("zstd compression level must be between 1 and 22 (0 selects the default)")
		}
	case "lz4":
		if ac.Level < 0 || ac.Level > 9 {
			return errors.New("lz4 compression level must be between 1 and 9 (0 selects the default)")
		}
	default:
		return fmt.Errorf("invalid compression algorithm: %s", ac.Compression)
	}

	switch ac.Method {
	case "native":
	case "tar":
		if ac.Compression != "gzip" {
			return fmt.Errorf("archive method tar only supports gzip compression, got %s", ac.Compression)
		}
	default:
		return fmt.Errorf("invalid archive method: %s", ac.Method)
	}
	return nil
}

// Validate validates the restore configuration
func (rc *RestoreConfig) Validate() error {
	if rc.BuildOutput != "" {
		if err := validateRelativePath(rc.BuildOutput); err != nil {
			return fmt.Errorf("build_output: %w", err)
		}
	}
	if strings.ContainsAny(rc.BackupSuffix, `/\`) {
		return fmt.Errorf("backup_suffix must not contain path separators: %s", rc.BackupSuffix)
	}
	return nil
}

// Validate validates the rebuild commands
func (rc *RebuildConfig) Validate() error {
	if rc.Skip {
		return nil
	}
	if len(rc.Install) == 0 && len(rc.Build) == 0 {
		return errors.New("install or build command is required unless rebuild is skipped")
	}
	return nil
}

// Validate validates the command timeouts
func (tc *TimeoutConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"vcs":     tc.VCS,
		"archive": tc.Archive,
		"install": tc.Install,
		"build":   tc.Build,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive, got %s", name, d)
		}
	}
	return nil
}

// Validate validates the logging configuration
func (lc *LoggingConfig) Validate() error {
	switch lc.Level {
	case "quiet", "normal", "verbose", "debug":
	default:
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}
	switch lc.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}
	return nil
}

func validateRelativePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("empty path")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("path must be relative to the project root: %s", p)
	}
	clean := filepath.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes the project root: %s", p)
	}
	return nil
}

// ProjectRoot returns the absolute project root
func (c *Config) ProjectRoot() (string, error) {
	root, err := filepath.Abs(c.Project.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project root %s: %w", c.Project.Root, err)
	}
	return root, nil
}

// ResolvePath resolves p against the project root unless it is absolute
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	root, err := c.ProjectRoot()
	if err != nil {
		root = c.Project.Root
	}
	return filepath.Join(root, p)
}

// BackupsDir returns the absolute directory archives are written to
func (c *Config) BackupsDir() string {
	return c.ResolvePath(c.Archive.Dir)
}

// SampleYAML renders the default configuration as a config file template
func SampleYAML() ([]byte, error) {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to render sample configuration: %w", err)
	}
	header := "# sitekeeper configuration\n# Place in ./.sitekeeper.yaml or ~/.sitekeeper.yaml; override with SITEKEEPER_<SECTION>_<KEY>\n"
	return append([]byte(header), data...), nil
}
