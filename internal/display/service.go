package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// DisplayService provides centralized formatting and output management
type DisplayService interface {
	PrintHeader(title string)
	PrintKeyValues(pairs [][2]string)
	PrintTable(headers []string, rows [][]string)
	PrintStructured(value interface{}) error

	NewPhaseTracker(phases []string) *PhaseTracker

	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	SetOutput(writer io.Writer)
	GetConfig() *DisplayConfig
}

type icon struct {
	unicode string
	ascii   string
}

var statusIcons = map[string]icon{
	"success": {"✓", "[OK]"},
	"warning": {"⚠", "[WARN]"},
	"error":   {"✗", "[ERROR]"},
	"info":    {"ℹ", "[INFO]"},
	"pending": {"…", "..."},
}

type displayService struct {
	config      *DisplayConfig
	colorSystem ColorSystem
	writer      io.Writer
}

// NewDisplayService creates a new display service with the given configuration
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &displayService{
		config:      config,
		colorSystem: NewColorSystem(config.GetColorTheme(), config.IsColorEnabled()),
		writer:      config.Writer,
	}
}

func (ds *displayService) structured() bool {
	return ds.config.OutputFormat == string(FormatJSON) || ds.config.OutputFormat == string(FormatYAML)
}

// PrintHeader prints a formatted header
func (ds *displayService) PrintHeader(title string) {
	if ds.config.QuietMode || ds.structured() {
		return
	}
	separator := strings.Repeat("=", len(title)+4)
	text := fmt.Sprintf("\n%s\n  %s  \n%s\n", separator, title, separator)
	fmt.Fprint(ds.writer, ds.colorSystem.Colorize(text, ds.colorSystem.Theme().Primary))
}

// PrintKeyValues prints an aligned "key: value" block
func (ds *displayService) PrintKeyValues(pairs [][2]string) {
	if ds.config.QuietMode || ds.structured() {
		return
	}
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		key := ds.colorSystem.Colorize(fmt.Sprintf("%-*s", width+1, p[0]+":"), ds.colorSystem.Theme().Muted)
		fmt.Fprintf(ds.writer, "  %s %s\n", key, p[1])
	}
}

// PrintTable prints a table, or its rows as structured data in json/yaml mode
func (ds *displayService) PrintTable(headers []string, rows [][]string) {
	if ds.structured() {
		records := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			record := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					record[strings.ToLower(h)] = row[i]
				}
			}
			records = append(records, record)
		}
		if err := WriteStructured(ds.writer, OutputFormat(ds.config.OutputFormat), records); err != nil {
			fmt.Fprintf(ds.writer, "Error formatting table: %v\n", err)
		}
		return
	}
	if ds.config.QuietMode {
		return
	}
	table := NewTable(headers, ds.colorSystem, tableWidth(ds.config.MaxTableWidth))
	for _, row := range rows {
		table.AddRow(row...)
	}
	fmt.Fprint(ds.writer, table.Render())
}

// PrintStructured writes value in the configured format; table mode uses YAML
// since there is no tabular shape for arbitrary values
func (ds *displayService) PrintStructured(value interface{}) error {
	format := OutputFormat(ds.config.OutputFormat)
	if format == FormatTable {
		format = FormatYAML
	}
	return WriteStructured(ds.writer, format, value)
}

// NewPhaseTracker creates a tracker that reports numbered pipeline phases
func (ds *displayService) NewPhaseTracker(phases []string) *PhaseTracker {
	writer := ds.writer
	if !ds.config.IsProgressEnabled() || ds.structured() {
		writer = io.Discard
	}
	return NewPhaseTracker(phases, writer, ds.colorSystem, ds.renderIcon)
}

func (ds *displayService) Success(message string) {
	ds.status("success", ds.colorSystem.Theme().Success, message, false)
}

func (ds *displayService) Warning(message string) {
	ds.status("warning", ds.colorSystem.Theme().Warning, message, false)
}

// Error is printed even in quiet mode
func (ds *displayService) Error(message string) {
	ds.status("error", ds.colorSystem.Theme().Error, message, true)
}

func (ds *displayService) Info(message string) {
	ds.status("info", ds.colorSystem.Theme().Info, message, false)
}

func (ds *displayService) status(kind string, clr Color, message string, always bool) {
	if (ds.config.QuietMode || ds.structured()) && !always {
		return
	}
	writer := ds.writer
	if kind == "error" && ds.structured() {
		writer = os.Stderr
	}
	prefix := ds.colorSystem.Colorize(ds.renderIcon(kind), clr)
	fmt.Fprintf(writer, "%s %s\n", prefix, message)
}

func (ds *displayService) renderIcon(name string) string {
	ic, ok := statusIcons[name]
	if !ok {
		return ""
	}
	if ds.config.UseIcons {
		return ic.unicode
	}
	return ic.ascii
}

func (ds *displayService) SetOutput(writer io.Writer) {
	ds.writer = writer
	ds.config.Writer = writer
}

func (ds *displayService) GetConfig() *DisplayConfig {
	return ds.config
}
