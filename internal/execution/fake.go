package execution

import (
	"context"
	"strings"
	"sync"
)

// FakeResponse is the canned outcome for a FakeRunner command
type FakeResponse struct {
	Result Result
	Err    error

	// Hook runs before the response is returned, e.g. to create the files a
	// real build would produce
	Hook func(Command) error
}

// FakeRunner is an in-memory CommandRunner for tests. Responses are looked up
// by the full command line first, then by program name.
type FakeRunner struct {
	mu        sync.Mutex
	calls     []Command
	responses map[string]FakeResponse
}

// NewFakeRunner creates an empty FakeRunner; unknown commands succeed with no output
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]FakeResponse)}
}

// On registers a response for a program name or a full command line
func (f *FakeRunner) On(key string, response FakeResponse) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key] = response
	return f
}

// Run records the call and returns the registered response
func (f *FakeRunner) Run(ctx context.Context, command Command) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	response, ok := f.responses[command.String()]
	if !ok {
		response = f.responses[command.Name]
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &Result{ExitCode: -1}, &CommandError{Command: command.String(), ExitCode: -1, Err: err}
	}

	if response.Hook != nil {
		if err := response.Hook(command); err != nil {
			return &Result{ExitCode: -1}, &CommandError{Command: command.String(), ExitCode: -1, Err: err}
		}
	}

	result := response.Result
	if response.Err != nil {
		return &result, response.Err
	}
	if result.ExitCode != 0 {
		return &result, &CommandError{
			Command:  command.String(),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return &result, nil
}

// Calls returns every command run so far
func (f *FakeRunner) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CommandLines returns the calls rendered as strings
func (f *FakeRunner) CommandLines() []string {
	calls := f.Calls()
	lines := make([]string, 0, len(calls))
	for _, c := range calls {
		lines = append(lines, strings.TrimSpace(c.String()))
	}
	return lines
}
