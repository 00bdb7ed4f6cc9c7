package director

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

var phaseHeaders = []string{
	"PHASE 1 of 3: SETUP ONLY. Create the project skeleton, configuration, and dependencies. Do not implement features yet.",
	"PHASE 2 of 3: CORE IMPLEMENTATION. Implement the main functionality on top of the existing setup.",
	"PHASE 3 of 3: POLISH AND EDGE CASES. Handle errors and edge cases, and finish anything left incomplete.",
}

// Phases splits a long prompt for a phased role into three sequential
// prompts. It returns nil when the task should run as a single worker.
func (d *Director) Phases(role, prompt string) []string {
	if len(prompt) <= d.policy.PhasedThreshold || !slices.Contains(d.policy.PhasedRoles, stage.BaseRole(role)) {
		return nil
	}
	out := make([]string, len(phaseHeaders))
	for i, h := range phaseHeaders {
		out[i] = h + "\n\n" + prompt
	}
	return out
}

// PhaseExec runs one phase prompt and returns its result.
type PhaseExec func(ctx context.Context, phase int, prompt string) (agent.Result, error)

// RunPhased executes phases in order. Every phase but the last is reviewed
// before the next starts; a redo re-runs that phase with the correction
// appended. The final phase is left for the caller's normal review.
func (d *Director) RunPhased(ctx context.Context, role string, phases []string, exec PhaseExec) ([]agent.Result, error) {
	results := make([]agent.Result, 0, len(phases))
	for i, prompt := range phases {
		current := prompt
		for {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			res, err := exec(ctx, i, current)
			if err != nil {
				return results, fmt.Errorf("phase %d of %s: %w", i+1, role, err)
			}
			if i == len(phases)-1 {
				results = append(results, res)
				break
			}
			v := d.review(role, res, false)
			if v.Action == ActionRedo {
				current = prompt + "\n\n" + v.Correction
				continue
			}
			results = append(results, res)
			break
		}
	}
	return results, nil
}

// CombineResults folds phase results into one. Success requires every phase
// to succeed; the exit code is the last phase's.
func CombineResults(role string, results []agent.Result) agent.Result {
	combined := agent.Result{Role: role, Success: true}
	outputs := make([]string, 0, len(results))
	var duration time.Duration
	for i, r := range results {
		outputs = append(outputs, fmt.Sprintf("## Phase %d\n%s", i+1, strings.TrimSpace(r.Output)))
		combined.Success = combined.Success && r.Success
		combined.ExitCode = r.ExitCode
		combined.Cost += r.Cost
		duration += r.Duration
		if r.Stderr != "" {
			combined.Stderr = r.Stderr
		}
	}
	combined.Output = strings.Join(outputs, "\n\n")
	combined.Duration = duration
	return combined
}
