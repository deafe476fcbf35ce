package display

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// PhaseTracker reports progress through a fixed, ordered list of phases.
// Output is line-oriented so it stays readable in CI logs.
type PhaseTracker struct {
	phases     []string
	current    int
	started    time.Time
	writer     io.Writer
	colorSys   ColorSystem
	renderIcon func(string) string
	completed  bool
	mu         sync.Mutex
}

// NewPhaseTracker creates a tracker; renderIcon may be nil
func NewPhaseTracker(phases []string, writer io.Writer, colorSys ColorSystem, renderIcon func(string) string) *PhaseTracker {
	if renderIcon == nil {
		renderIcon = func(string) string { return "" }
	}
	return &PhaseTracker{
		phases:     phases,
		current:    -1,
		writer:     writer,
		colorSys:   colorSys,
		renderIcon: renderIcon,
	}
}

// Start begins the named phase; unknown names are appended
func (pt *PhaseTracker) Start(phase string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	index := -1
	for i, p := range pt.phases {
		if p == phase {
			index = i
			break
		}
	}
	if index < 0 {
		pt.phases = append(pt.phases, phase)
		index = len(pt.phases) - 1
	}

	pt.current = index
	pt.started = time.Now()
	label := pt.colorSys.Sprintf(pt.colorSys.Theme().Primary, "[%d/%d]", index+1, len(pt.phases))
	fmt.Fprintf(pt.writer, "%s %s...\n", label, phase)
}

// Complete marks the current phase as done
func (pt *PhaseTracker) Complete(message string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.current < 0 {
		return
	}
	elapsed := time.Since(pt.started).Round(time.Millisecond)
	icon := pt.colorSys.Colorize(pt.renderIcon("success"), pt.colorSys.Theme().Success)
	if message == "" {
		message = "done"
	}
	fmt.Fprintf(pt.writer, "      %s %s (%s)\n", icon, message, elapsed)
	if pt.current == len(pt.phases)-1 {
		pt.completed = true
	}
}

// Skip reports the current or named phase as skipped
func (pt *PhaseTracker) Skip(phase, reason string) {
	pt.Start(phase)

	pt.mu.Lock()
	defer pt.mu.Unlock()
	icon := pt.colorSys.Colorize(pt.renderIcon("info"), pt.colorSys.Theme().Muted)
	fmt.Fprintf(pt.writer, "      %s skipped: %s\n", icon, reason)
	if pt.current == len(pt.phases)-1 {
		pt.completed = true
	}
}

// Fail marks the current phase as failed
func (pt *PhaseTracker) Fail(err error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.current < 0 {
		return
	}
	icon := pt.colorSys.Colorize(pt.renderIcon("error"), pt.colorSys.Theme().Error)
	fmt.Fprintf(pt.writer, "      %s %s failed: %v\n", icon, pt.phases[pt.current], err)
}

// CurrentPhase returns the name of the phase in progress, or ""
func (pt *PhaseTracker) CurrentPhase() string {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.current < 0 {
		return ""
	}
	return pt.phases[pt.current]
}

// IsCompleted reports whether the last phase completed
func (pt *PhaseTracker) IsCompleted() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.completed
}
