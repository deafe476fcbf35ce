package display

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// WriteStructured encodes value as JSON or YAML
func WriteStructured(w io.Writer, format OutputFormat, value interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// ParseOutputFormat validates a user-supplied format name
func ParseOutputFormat(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case FormatTable, FormatJSON, FormatYAML:
		return OutputFormat(name), nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("invalid output format '%s', must be one of: table, json, yaml", name)
	}
}

// FormatBytes renders a byte count in binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
