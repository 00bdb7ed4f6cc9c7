package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/orchestrator/director"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/plan"
)

// stageInstructions are appended to the generic stage description.
var stageInstructions = map[stage.Stage]string{
	stage.Planning: "List the work for each role that has any under its own \"### ASSIGN:<ROLE>\" line " +
		"(for example \"### ASSIGN:BUILDER\"). If the implementation splits into independently buildable " +
		"parts, describe each under a \"### MODULE: <name>\" line.",
	stage.Architecting: "Describe the file and directory structure. List each independently buildable " +
		"module under a \"### MODULE: <name>\" line.",
	stage.Testing: "Run the tests and report how many passed and failed.",
	stage.Reviewing: "End your review with exactly one verdict line: APPROVED, or " + director.RevisionMarker +
		" followed by the required changes.",
	stage.Securing: "End your audit with exactly one verdict line: APPROVED, or " + director.RevisionMarker +
		" followed by the required fixes.",
}

// basePrompt builds the task text for info before the director's brief is
// added around it. A plan assignment for the role replaces the raw request.
func (e *Engine) basePrompt(info stage.Info) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s. Stage: %s. %s.\n\n", info.Role, info.Label, info.Description)
	if extra, ok := stageInstructions[info.ID]; ok {
		sb.WriteString(extra)
		sb.WriteString("\n\n")
	}
	sb.WriteString(e.plan.TaskFor(info.Role, "## Request\n"+e.state.Prompt))

	prompt := sb.String()
	if info.ID == stage.Coding && e.feedback != "" {
		prompt += "\n\n## Revision requested by review\n" + e.feedback
	}
	return prompt
}

// runStage executes one stage and returns the output used for transition
// decisions.
func (e *Engine) runStage(ctx context.Context, info stage.Info) (string, error) {
	logger := e.logger.WithStage(string(info.ID))
	base := e.basePrompt(info)

	var (
		output string
		err    error
	)
	switch {
	case info.ID == stage.Coding && e.plan != nil && len(e.plan.Modules) >= 2:
		logger.Info("building modules in parallel", "modules", len(e.plan.Modules))
		output, err = e.runModules(ctx, base, e.plan.Modules)
	case e.dir.Phases(info.Role, base) != nil:
		logger.Info("running phased worker", "role", info.Role)
		output, err = e.runPhased(ctx, info.Role, base)
	default:
		var res agent.Result
		res, err = e.runReviewed(ctx, info.Role, base)
		output = res.Output
	}
	if err != nil {
		return "", err
	}

	switch info.ID {
	case stage.Planning:
		e.plan = plan.Parse(output)
		logger.Info("plan parsed", "assignments", len(e.plan.Assignments), "modules", len(e.plan.Modules))
	case stage.Architecting:
		if e.ensurePlan().RefreshModules(output) {
			logger.Info("modules refreshed from architecture", "modules", len(e.plan.Modules))
		}
	case stage.Coding:
		e.feedback = ""
	}
	return output, nil
}

// runReviewed runs role under the director's redo loop and records the
// accepted output.
func (e *Engine) runReviewed(ctx context.Context, role, base string) (agent.Result, error) {
	brief := e.dir.PrepareBrief(role, base)
	task := e.task(role, brief)
	for {
		res, err := e.runOne(ctx, task)
		if err != nil {
			return res, err
		}
		v := e.dir.ReviewOutput(role, res)
		if v.Action == director.ActionRedo {
			task.Prompt = brief + "\n\n" + v.Correction
			continue
		}
		return res, e.sessions.Record(ctx, role, res.Output)
	}
}

// runModules builds each module as builder-N through the scheduler, then
// reviews every result and redoes rejected ones individually.
func (e *Engine) runModules(ctx context.Context, base string, modules []plan.Module) (string, error) {
	roles := make([]string, len(modules))
	briefs := make([]string, len(modules))
	tasks := make([]agent.Task, len(modules))
	for i, m := range modules {
		roles[i] = fmt.Sprintf("builder-%d", i+1)
		moduleBase := fmt.Sprintf("Build only module %q. Other builders handle the remaining modules in parallel.\n\n%s\n\n%s",
			m.Name, strings.TrimSpace(m.Body), base)
		briefs[i] = e.dir.PrepareBrief(roles[i], moduleBase)
		tasks[i] = e.task(roles[i], briefs[i])
	}

	results, err := await(e, func() ([]agent.Result, error) {
		return e.sched.Run(ctx, tasks, e.updates)
	})
	if err != nil {
		return "", err
	}

	outputs := make([]string, len(results))
	for i, res := range results {
		for {
			v := e.dir.ReviewOutput(roles[i], res)
			if v.Action != director.ActionRedo {
				break
			}
			task := tasks[i]
			task.Prompt = briefs[i] + "\n\n" + v.Correction
			if res, err = e.runOne(ctx, task); err != nil {
				return "", err
			}
		}
		if err := e.sessions.Record(ctx, roles[i], res.Output); err != nil {
			return "", err
		}
		outputs[i] = fmt.Sprintf("## %s (%s)\n%s", roles[i], modules[i].Name, strings.TrimSpace(res.Output))
	}
	return strings.Join(outputs, "\n\n"), nil
}

// runPhased runs role in three sequential phases, then applies the normal
// review to the combined result. A redo there re-runs the last phase.
func (e *Engine) runPhased(ctx context.Context, role, base string) (string, error) {
	phases := e.dir.Phases(role, base)
	exec := func(ctx context.Context, _ int, prompt string) (agent.Result, error) {
		return e.runOne(ctx, e.task(role, e.dir.PrepareBrief(role, prompt)))
	}

	results, err := e.dir.RunPhased(ctx, role, phases, exec)
	if err != nil {
		return "", err
	}
	last := len(results) - 1
	combined := director.CombineResults(role, results)
	for {
		v := e.dir.ReviewOutput(role, combined)
		if v.Action != director.ActionRedo {
			break
		}
		res, err := exec(ctx, last, phases[last]+"\n\n"+v.Correction)
		if err != nil {
			return "", err
		}
		results[last] = res
		combined = director.CombineResults(role, results)
	}
	return combined.Output, e.sessions.Record(ctx, role, combined.Output)
}

// task assembles the spawn request for role.
func (e *Engine) task(role, prompt string) agent.Task {
	t := agent.Task{
		Role:    role,
		Prompt:  prompt,
		Context: e.sessions.BuildContext(role),
		WorkDir: e.opts.WorkDir,
	}
	if r, ok := e.catalog.Get(role); ok {
		t.SystemPrompt = r.SystemPrompt
		t.Allow = r.Allow
		t.Deny = r.Deny
		t.MaxTurns = r.MaxTurns
	}
	base := stage.BaseRole(role)
	if n, ok := e.opts.RoleTurns[base]; ok && n > 0 {
		t.MaxTurns = n
	}
	if m, ok := e.opts.RoleModels[base]; ok {
		t.Model = m
	}
	return t
}

// runOne runs a single task while the calling goroutine services updates.
func (e *Engine) runOne(ctx context.Context, task agent.Task) (agent.Result, error) {
	return await(e, func() (agent.Result, error) {
		return e.runner.Run(ctx, task, e.updates)
	})
}

// await runs fn on its own goroutine and consumes worker updates on the
// calling goroutine until fn returns. Runners deliver every update before
// returning, so the buffer is drained once more afterwards. Cancellation is
// observed by fn through its context.
func await[T any](e *Engine, fn func() (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{v, err}
	}()

	for {
		select {
		case u := <-e.updates:
			e.handleUpdate(u)
		case o := <-done:
			for {
				select {
				case u := <-e.updates:
					e.handleUpdate(u)
				default:
					return o.v, o.err
				}
			}
		}
	}
}

// handleUpdate routes one worker update. It runs on the engine goroutine.
func (e *Engine) handleUpdate(u agent.Update) {
	switch u.Kind {
	case agent.UpdateSpawned:
		e.spawnPIDs[u.SpawnID] = u.PID
		e.sup.Track(u.PID, u.Role)
		e.metrics.WorkerStarted()
		e.emit(Event{Type: EventAgentSpawned, Stage: e.current, Role: u.Role, PID: u.PID})
	case agent.UpdateOutput:
		if pid, ok := e.spawnPIDs[u.SpawnID]; ok {
			e.sup.Touch(pid)
		}
		e.dir.MonitorOutput(u.Role, u.Chunk)
		e.emit(Event{Type: EventAgentOutput, Stage: e.current, Role: u.Role, PID: u.PID, Message: u.Chunk})
	case agent.UpdateDone:
		pid, ok := e.spawnPIDs[u.SpawnID]
		if ok {
			e.sup.Untrack(pid)
			delete(e.spawnPIDs, u.SpawnID)
		}
		cost := 0.0
		if u.Result != nil {
			cost = u.Result.Cost
		}
		e.metrics.WorkerFinished(u.Role, cost)
		e.emit(Event{Type: EventAgentDone, Stage: e.current, Role: u.Role, PID: pid, Result: u.Result})
	case agent.UpdateError:
		msg := ""
		if u.Err != nil {
			msg = u.Err.Error()
		}
		e.emit(Event{Type: EventAgentError, Stage: e.current, Role: u.Role, PID: u.PID, Message: msg})
	}
}
