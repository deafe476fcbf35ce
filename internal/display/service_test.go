package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func newTestService(format string) (DisplayService, *bytes.Buffer) {
	var buf bytes.Buffer
	config := DefaultDisplayConfig()
	config.Writer = &buf
	config.ColorEnabled = false
	config.OutputFormat = format
	return NewDisplayService(config), &buf
}

func TestNewDisplayService(t *testing.T) {
	service := NewDisplayService(nil)
	if service == nil {
		t.Fatal("Expected service to be created, got nil")
	}

	config := service.GetConfig()
	if config.OutputFormat != string(FormatTable) {
		t.Errorf("Expected default format to be table, got %s", config.OutputFormat)
	}
	if config.MaxTableWidth != 120 {
		t.Errorf("Expected default table width 120, got %d", config.MaxTableWidth)
	}
}

func TestDisplayServiceMessages(t *testing.T) {
	service, buf := newTestService("table")

	service.PrintHeader("Backup")
	service.Success("archive written")
	service.Warning("2 files missing")
	service.Info("workspace kept")

	output := buf.String()
	for _, want := range []string{"Backup", "✓ archive written", "⚠ 2 files missing", "ℹ workspace kept"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestDisplayServiceASCIIIcons(t *testing.T) {
	service, buf := newTestService("table")
	service.GetConfig().UseIcons = false

	service.Error("boom")

	if got := buf.String(); got != "[ERROR] boom\n" {
		t.Errorf("Unexpected output %q", got)
	}
}

func TestDisplayServiceQuietMode(t *testing.T) {
	service, buf := newTestService("table")
	service.GetConfig().QuietMode = true

	service.PrintHeader("hidden")
	service.Success("hidden")
	service.PrintKeyValues([][2]string{{"Archive", "hidden"}})
	if buf.Len() != 0 {
		t.Errorf("Expected no output in quiet mode, got %q", buf.String())
	}

	service.Error("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected errors to be printed in quiet mode")
	}
}

func TestDisplayServiceKeyValues(t *testing.T) {
	service, buf := newTestService("table")

	service.PrintKeyValues([][2]string{{"Archive", "backups/a.tar.gz"}, {"Files", "3"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "  Archive: backups/a.tar.gz" || lines[1] != "  Files:   3" {
		t.Errorf("Unexpected alignment:\n%s", buf.String())
	}
}

func TestDisplayServicePrintTable(t *testing.T) {
	service, buf := newTestService("table")

	service.PrintTable([]string{"Name", "Size"}, [][]string{{"backup-1.tar.gz", "10 B"}})

	output := buf.String()
	if !strings.Contains(output, "| Name            | Size |") {
		t.Errorf("Unexpected table header:\n%s", output)
	}
	if !strings.Contains(output, "| backup-1.tar.gz | 10 B |") {
		t.Errorf("Unexpected table row:\n%s", output)
	}
}

func TestDisplayServicePrintTableAsJSON(t *testing.T) {
	service, buf := newTestService("json")

	service.Success("suppressed")
	service.PrintTable([]string{"Name", "Size"}, [][]string{{"a", "1"}, {"b", "2"}})

	var records []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatalf("Expected valid JSON, got %v:\n%s", err, buf.String())
	}
	if len(records) != 2 || records[1]["name"] != "b" || records[1]["size"] != "2" {
		t.Errorf("Unexpected records: %v", records)
	}
}

func TestDisplayServicePrintStructured(t *testing.T) {
	value := map[string]interface{}{"version": "1.2.3", "size": 42}

	tests := []struct {
		format string
		decode func([]byte, interface{}) error
	}{
		{"json", json.Unmarshal},
		{"yaml", yaml.Unmarshal},
		{"table", yaml.Unmarshal},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			service, buf := newTestService(tt.format)
			if err := service.PrintStructured(value); err != nil {
				t.Fatalf("PrintStructured failed: %v", err)
			}
			var decoded map[string]interface{}
			if err := tt.decode(buf.Bytes(), &decoded); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if decoded["version"] != "1.2.3" {
				t.Errorf("Expected version 1.2.3, got %v", decoded["version"])
			}
		})
	}
}

func TestPhaseTracker(t *testing.T) {
	service, buf := newTestService("table")
	tracker := service.NewPhaseTracker([]string{"Validating", "Extracting", "Verifying"})

	tracker.Start("Validating")
	tracker.Complete("")
	tracker.Start("Extracting")
	tracker.Fail(errors.New("disk full"))

	output := buf.String()
	for _, want := range []string{"[1/3] Validating...", "✓ done", "[2/3] Extracting...", "✗ Extracting failed: disk full"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, output)
		}
	}
	if tracker.CurrentPhase() != "Extracting" {
		t.Errorf("Expected current phase Extracting, got %s", tracker.CurrentPhase())
	}
	if tracker.IsCompleted() {
		t.Error("Expected tracker not to be completed")
	}

	tracker.Start("Verifying")
	tracker.Complete("3 files verified")
	if !tracker.IsCompleted() {
		t.Error("Expected tracker to be completed after last phase")
	}
}

func TestPhaseTrackerSkip(t *testing.T) {
	service, buf := newTestService("table")
	tracker := service.NewPhaseTracker([]string{"Restoring", "Rebuilding"})

	tracker.Start("Restoring")
	tracker.Complete("")
	tracker.Skip("Rebuilding", "--skip-rebuild")

	if !strings.Contains(buf.String(), "skipped: --skip-rebuild") {
		t.Errorf("Expected skip notice, got:\n%s", buf.String())
	}
	if !tracker.IsCompleted() {
		t.Error("Expected skipped last phase to complete the tracker")
	}
}

func TestPhaseTrackerDisabled(t *testing.T) {
	service, buf := newTestService("table")
	service.GetConfig().ShowProgress = false

	tracker := service.NewPhaseTracker([]string{"Collecting"})
	tracker.Start("Collecting")
	tracker.Complete("")

	if buf.Len() != 0 {
		t.Errorf("Expected no progress output, got %q", buf.String())
	}
}
