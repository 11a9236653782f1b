package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autoship/autoship/internal/classify"
	"github.com/autoship/autoship/internal/output"
)

// ConsoleNotifier renders the final run report to the console.
type ConsoleNotifier struct{}

// Notify prints the run report. It never fails.
func (ConsoleNotifier) Notify(_ context.Context, run *Run) error {
	var b strings.Builder

	fmt.Fprintf(&b, "run finished: %s\n", run.OverallStatus)
	if run.HaltedStage != "" {
		fmt.Fprintf(&b, "  halted at:  %s (%v)\n", run.HaltedStage, run.Err)
	}
	if run.Decision.Kind != classify.None || len(run.Decision.Rationale) > 0 {
		fmt.Fprintf(&b, "  bump:       %s", run.Decision.Kind)
		if run.Decision.Overridden {
			fmt.Fprintf(&b, " (override; automatic was %s)", run.Decision.Automatic)
		}
		b.WriteString("\n")
	}
	if run.NextVersion != nil {
		fmt.Fprintf(&b, "  version:    %s\n", run.NextVersion)
	}
	if run.Tag != nil {
		fmt.Fprintf(&b, "  tag:        %s at %s\n", run.Tag.Name, short(run.Tag.Commit))
	}
	for _, artifact := range run.Artifacts {
		fmt.Fprintf(&b, "  artifact:   %s (%d bytes, sha256 %s)\n",
			artifact.Name, len(artifact.Bytes), short(artifact.SHA256))
	}
	for _, res := range run.Results {
		fmt.Fprintf(&b, "  target:     %-20s %s", res.Target, res.Status)
		if res.Attempts > 1 {
			fmt.Fprintf(&b, " after %d attempts", res.Attempts)
		}
		if res.Err != nil {
			fmt.Fprintf(&b, " (%v)", res.Err)
		}
		b.WriteString("\n")
	}
	for _, t := range run.Timings {
		fmt.Fprintf(&b, "  timing:     %-12s %s\n", t.Stage, t.Duration.Round(time.Millisecond))
	}

	output.Print(strings.TrimRight(b.String(), "\n"))
	return nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
