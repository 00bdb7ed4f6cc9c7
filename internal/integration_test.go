// Package internal holds cross-package tests that run the configuration,
// engine, persistence and metrics layers together.
package internal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/config"
	"github.com/Iron-Ham/krenk/internal/coordination"
	resource "github.com/Iron-Ham/krenk/internal/instance/metrics"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	kmetrics "github.com/Iron-Ham/krenk/internal/metrics"
	"github.com/Iron-Ham/krenk/internal/orchestrator"
	"github.com/Iron-Ham/krenk/internal/session"
)

const workerOutput = "Created file cmd/server/main.go for the service.\n" +
	"### ASSIGN:BUILDER\nBuild the HTTP server.\n" +
	"Updated README documentation. 12 tests passed, 0 failed.\nAPPROVED"

type scriptedRunner struct {
	mu   sync.Mutex
	pids int
}

func (r *scriptedRunner) Run(ctx context.Context, task agent.Task, updates chan<- agent.Update) (agent.Result, error) {
	r.mu.Lock()
	r.pids++
	pid := 700000 + r.pids
	r.mu.Unlock()

	id := task.Role + "-spawn"
	agent.Send(ctx, updates, agent.Update{Kind: agent.UpdateSpawned, SpawnID: id, Role: task.Role, PID: pid})
	agent.Send(ctx, updates, agent.Update{Kind: agent.UpdateOutput, SpawnID: id, Role: task.Role, PID: pid, Chunk: workerOutput})
	res := agent.Result{Role: task.Role, Output: workerOutput, Success: true, Cost: 0.01, Duration: time.Millisecond}
	agent.Send(ctx, updates, agent.Update{Kind: agent.UpdateDone, SpawnID: id, Role: task.Role, PID: pid, Result: &res})
	return res, nil
}

type idleSampler struct{}

func (idleSampler) Sample(context.Context, []int) (map[int]resource.Usage, error) {
	return map[int]resource.Usage{}, nil
}

type quietKiller struct{}

func (quietKiller) Terminate(int, time.Duration) {}
func (quietKiller) ForceKill(int)                {}

// TestConfiguredRun drives a run built from configuration through the engine
// and checks what persistence, shared memory and metrics observed.
func TestConfiguredRun(t *testing.T) {
	workDir := t.TempDir()
	cfg := config.Default()
	cfg.Engine.Skip = []string{"designer", "deploying"}
	cfg.Roles = map[string]config.RoleConfig{"builder": {MaxTurns: 12}}
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("Validate() = %v", errs)
	}

	opts := cfg.EngineOptions(workDir)
	opts.EventBuffer = 2048
	opts.Supervisor.PollInterval = 25 * time.Millisecond

	m := kmetrics.New()
	engine, err := orchestrator.New(opts, orchestrator.Deps{
		Runner:   &scriptedRunner{},
		Sampler:  idleSampler{},
		Killer:   quietKiller{},
		Registry: process.NewRegistry(quietKiller{}),
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}

	var wg sync.WaitGroup
	var stages int
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range engine.Events() {
			if ev.Type == orchestrator.EventStage && ev.StageStatus == orchestrator.StageCompleted {
				stages++
			}
		}
	}()

	state, err := engine.Run(context.Background(), "build an HTTP server")
	wg.Wait()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if state.StageCount != 9 || stages != 9 {
		t.Errorf("StageCount = %d, completed events = %d, want 9", state.StageCount, stages)
	}

	store, err := session.NewFileStore(engine.StateDir())
	if err != nil {
		t.Fatal(err)
	}
	runs, err := session.ListRuns(context.Background(), store, nil)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns() = %v, %v", runs, err)
	}
	if runs[0].RunID != state.RunID || !runs[0].Finished() {
		t.Errorf("listed run = %+v", runs[0])
	}
	if _, err := session.LatestResumable(context.Background(), store, nil); err != nil {
		t.Errorf("LatestResumable() error = %v", err)
	}

	status := engine.Memory().Get(coordination.SectionStatus)
	if !strings.Contains(status, "builder") || !strings.Contains(status, "Idle: designer, devops") {
		t.Errorf("status board = %q", status)
	}

	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range []string{"krenk_engine_stage_duration_seconds", "krenk_engine_runs_total", "krenk_worker_cost_usd_total"} {
		if !seen[name] {
			t.Errorf("metric %s not exported", name)
		}
	}
}
