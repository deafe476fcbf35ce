package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"sitekeeper/internal/display"
	"sitekeeper/internal/recovery"
)

const maxPromptAttempts = 3

// ConfirmationService asks the operator to approve a restore before any
// project file is written
type ConfirmationService interface {
	ConfirmRestore(ctx context.Context, plan *recovery.RestorePlan, autoApprove bool) (bool, error)
	DisplayRestoreSummary(plan *recovery.RestorePlan)
}

// confirmationService implements the ConfirmationService interface
type confirmationService struct {
	display display.DisplayService
	reader  *bufio.Reader
	writer  io.Writer
}

// NewConfirmationService creates a service that prompts on writer and reads
// answers from reader
func NewConfirmationService(displayService display.DisplayService, reader io.Reader, writer io.Writer) ConfirmationService {
	return &confirmationService{
		display: displayService,
		reader:  bufio.NewReader(reader),
		writer:  writer,
	}
}

// ConfirmRestore displays the plan and prompts for confirmation. A canceled
// context counts as a refusal and returns the context error.
func (cs *confirmationService) ConfirmRestore(ctx context.Context, plan *recovery.RestorePlan, autoApprove bool) (bool, error) {
	cs.DisplayRestoreSummary(plan)

	if autoApprove {
		cs.display.Info("Auto-approving restore...")
		return true, nil
	}

	type answer struct {
		ok  bool
		err error
	}
	answers := make(chan answer, 1)

	// Read in the background so an interrupt is not blocked on stdin
	go func() {
		ok, err := cs.prompt()
		answers <- answer{ok, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cs.writer)
		cs.display.Warning("Operation cancelled by user")
		return false, ctx.Err()
	case a := <-answers:
		return a.ok, a.err
	}
}

// DisplayRestoreSummary displays what the restore will change
func (cs *confirmationService) DisplayRestoreSummary(plan *recovery.RestorePlan) {
	cs.display.PrintHeader("Restore Plan")
	cs.display.PrintKeyValues([][2]string{
		{"Project", plan.ProjectRoot},
		{"Snapshot", plan.Snapshot},
		{"Version", plan.Version},
		{"Git commit", plan.GitCommit},
		{"Content files", fmt.Sprintf("%d", plan.ContentFiles)},
		{"Artifact files", fmt.Sprintf("%d (%d build output files skipped)", plan.ArtifactFiles, plan.SkippedBuildOutput)},
		{"Config files", fmt.Sprintf("%d", plan.ConfigFiles)},
	})

	if len(plan.ConfigOverwrites) > 0 {
		cs.display.Warning(fmt.Sprintf("%d existing config file(s) will be replaced; the current versions are kept with a %s suffix",
			len(plan.ConfigOverwrites), plan.BackupSuffix))
		rows := make([][]string, 0, len(plan.ConfigOverwrites))
		for _, p := range plan.ConfigOverwrites {
			rows = append(rows, []string{p, p + plan.BackupSuffix})
		}
		cs.display.PrintTable([]string{"Config", "Preserved As"}, rows)
	}
	cs.display.Warning("Content and artifact files in the project are overwritten without copies")
}

// prompt asks until it gets a yes/no answer or runs out of attempts
func (cs *confirmationService) prompt() (bool, error) {
	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		fmt.Fprint(cs.writer, "Do you want to restore this snapshot? [y/N]: ")

		input, err := cs.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && input != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cs.writer)
				return false, nil
			}
			return false, fmt.Errorf("failed to read input: %w", err)
		}

		ok, valid := parseConfirmationInput(input)
		if valid {
			return ok, nil
		}
		fmt.Fprintf(cs.writer, "Invalid input '%s'. Please enter 'y' for yes or 'n' for no.\n", strings.TrimSpace(input))
	}
	return false, nil
}

// parseConfirmationInput parses the user's confirmation input
func parseConfirmationInput(input string) (approved, valid bool) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, true
	case "n", "no", "":
		return false, true
	default:
		return false, false
	}
}
