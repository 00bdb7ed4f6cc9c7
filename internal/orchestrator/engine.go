// Package orchestrator runs the krenk pipeline. The Engine walks the stage
// sequence, briefs and reviews every worker through the director, fans
// parallel modules out through the scheduler, and checkpoints after every
// stage so an interrupted run can be resumed.
//
// One goroutine, the one calling Run or Resume, owns all engine, director,
// session and shared-memory state. Workers report back over a single update
// channel that only this goroutine consumes.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/coordination"
	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	"github.com/Iron-Ham/krenk/internal/instance/supervisor"
	"github.com/Iron-Ham/krenk/internal/logging"
	kmetrics "github.com/Iron-Ham/krenk/internal/metrics"
	"github.com/Iron-Ham/krenk/internal/orchestrator/director"
	"github.com/Iron-Ham/krenk/internal/orchestrator/scheduler"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/plan"
	"github.com/Iron-Ham/krenk/internal/roles"
	"github.com/Iron-Ham/krenk/internal/session"
)

// MemoryDirName is the shared-memory directory inside the state directory.
const MemoryDirName = "memory"

// Engine executes one run. It is single-use: call Run or Resume once.
type Engine struct {
	opts     Options
	stateDir string
	logger   *logging.Logger
	now      func() time.Time

	runner   agent.Runner
	registry *process.Registry
	catalog  *roles.Catalog
	metrics  *kmetrics.Metrics

	store    *session.FileStore
	sessions *session.Manager
	mem      *coordination.Memory
	dir      *director.Director
	sched    *scheduler.Scheduler
	sup      *supervisor.Supervisor

	events  chan Event
	emitCtx context.Context
	updates chan agent.Update
	dropped atomic.Int64
	started atomic.Bool

	// Engine-goroutine state.
	state      *session.RunState
	plan       *plan.Plan
	spawnPIDs  map[string]int
	feedback   string
	current    stage.Stage
	forwardWG  sync.WaitGroup
	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	shutdown   atomic.Bool

	stopWatcher func()
}

// New prepares an engine for opts. It creates the state directory and the
// shared memory but spawns nothing.
func New(opts Options, deps Deps) (*Engine, error) {
	if strings.TrimSpace(opts.WorkDir) == "" {
		return nil, kerrors.NewValidationError("work_dir", opts.WorkDir, "must not be empty")
	}
	workDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	opts.WorkDir = workDir
	opts.applyDefaults()

	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Catalog == nil {
		deps.Catalog = roles.Default()
	}
	if deps.Killer == nil {
		deps.Killer = process.Signaler{}
	}
	if deps.Registry == nil {
		deps.Registry = process.NewRegistry(deps.Killer)
	}
	if deps.Runner == nil {
		r := agent.NewCLIRunner(opts.AgentBinary, deps.Registry, deps.Logger)
		r.Grace = opts.KillGrace
		deps.Runner = r
	}

	stateDir := session.StateDir(workDir)
	store, err := session.NewFileStore(stateDir)
	if err != nil {
		return nil, err
	}
	mem, err := coordination.NewMemory(filepath.Join(stateDir, MemoryDirName),
		coordination.WithClock(deps.Now), coordination.WithLogger(deps.Logger))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:      opts,
		stateDir:  stateDir,
		logger:    deps.Logger.With("component", "engine"),
		now:       deps.Now,
		runner:    deps.Runner,
		registry:  deps.Registry,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		store:     store,
		mem:       mem,
		sched:     scheduler.New(deps.Runner, opts.MaxParallel, deps.Logger),
		sup:       supervisor.New(opts.Supervisor, deps.Sampler, deps.Killer, deps.Logger),
		events:    make(chan Event, opts.EventBuffer),
		emitCtx:   context.Background(),
		updates:   make(chan agent.Update, 256),
		spawnPIDs: make(map[string]int),
	}

	e.dir, err = director.New(director.Config{
		Memory:  mem,
		Catalog: deps.Catalog,
		Policy:  opts.Director,
		Logger:  deps.Logger,
		Notify:  e.onIntervention,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Events returns the engine's event stream. It is closed when the run ends.
// Callers must drain it. Output chunks and supervisor stats are dropped on a
// full buffer; every other event waits for room until the context passed to
// Run or Resume is done.
func (e *Engine) Events() <-chan Event { return e.events }

// Dropped returns how many events were dropped.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// StateDir returns the engine's .krenk directory.
func (e *Engine) StateDir() string { return e.stateDir }

// Memory returns the shared memory store.
func (e *Engine) Memory() *coordination.Memory { return e.mem }

// Shutdown aborts the run in progress. It is safe to call from any
// goroutine and more than once.
func (e *Engine) Shutdown() {
	e.shutdown.Store(true)
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
}

// Run starts a new run for prompt.
func (e *Engine) Run(ctx context.Context, prompt string) (*session.RunState, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine already used: %w", kerrors.ErrInvalidInput)
	}
	if strings.TrimSpace(prompt) == "" {
		close(e.events)
		return nil, kerrors.NewValidationError("prompt", prompt, "must not be empty")
	}
	runID := session.NewRunID(e.now())
	e.sessions = session.NewManager(e.store, runID, e.logger)
	e.state = session.NewRunState(runID, prompt, e.opts.Skip, e.now())
	return e.execute(ctx, false)
}

// Resume continues runID from its last checkpoint. Stages already recorded
// as completed are not re-run.
func (e *Engine) Resume(ctx context.Context, runID string) (*session.RunState, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("engine already used: %w", kerrors.ErrInvalidInput)
	}
	e.sessions = session.NewManager(e.store, runID, e.logger)
	state, err := e.sessions.Restore(ctx, runID)
	if err != nil {
		close(e.events)
		return nil, err
	}
	if state.Finished() {
		close(e.events)
		return state, kerrors.NewRunError(runID, "", kerrors.ErrRunFinished)
	}
	if len(e.opts.Skip) == 0 {
		e.opts.Skip = state.SkipStages
	}
	state.Status = session.StatusRunning
	e.state = state

	if out, ok := e.sessions.Output("strategist"); ok {
		e.plan = plan.Parse(out)
	}
	if out, ok := e.sessions.Output("architect"); ok {
		e.ensurePlan().RefreshModules(out)
	}
	e.dir.RestoreCompleted(e.sessions.Outputs(), e.sessions.RecordedRoles())
	e.logger.Info("resuming run", "run_id", runID, "completed", len(state.CompletedStages))
	return e.execute(ctx, true)
}

func (e *Engine) execute(parent context.Context, resumed bool) (result *session.RunState, err error) {
	logger := e.logger.WithRun(e.state.RunID)
	e.logger = logger

	lock, err := session.AcquireLock(e.stateDir, e.state.RunID, logger)
	if err != nil {
		close(e.events)
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	e.emitCtx = parent
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	if e.shutdown.Load() {
		cancel()
	}

	if !resumed {
		if err := e.sessions.ResetCurrent(ctx); err != nil {
			logger.Warn("failed to clear previous outputs", "error", err)
		}
		if err := e.mem.Reset(); err != nil {
			logger.Warn("failed to reset shared memory", "error", err)
		}
	}

	e.startBackground(ctx)
	defer e.stopBackground()

	priorDuration := e.state.Duration()
	startedAt := e.now()
	elapsed := func() time.Duration { return priorDuration + e.now().Sub(startedAt) }

	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine fault", "panic", fmt.Sprint(r))
			result, err = e.fail(ctx, elapsed(), fmt.Errorf("engine fault: %v", r))
		}
	}()

	logger.Info("run started", "resumed", resumed, "workdir", e.opts.WorkDir)
	if err := e.walk(ctx, elapsed); err != nil {
		return e.fail(ctx, elapsed(), err)
	}

	e.state.Status = session.StatusComplete
	e.state.SetDuration(elapsed())
	e.checkpoint(ctx)
	e.metrics.IncRun(string(session.StatusComplete))
	e.emit(Event{
		Type:    EventRunComplete,
		Message: fmt.Sprintf("Completed %d stages in %s", e.state.StageCount, e.state.Duration().Round(time.Second)),
	})
	logger.Info("run complete", "stages", e.state.StageCount, "revisions", e.state.Revisions)
	return e.state, nil
}

// walk advances through the pipeline until Complete.
func (e *Engine) walk(ctx context.Context, elapsed func() time.Duration) error {
	pending := func(s stage.Stage) bool { return !e.state.HasCompleted(s) }
	rerun := make(map[stage.Stage]bool)

	for cur := stage.First(); cur != stage.Complete; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", kerrors.ErrCanceled, err)
		}
		e.current = cur
		info, ok := stage.Lookup(cur)
		if !ok {
			return fmt.Errorf("%w: %s", kerrors.ErrStageUnknown, cur)
		}

		if !pending(cur) && !rerun[cur] {
			cur = stage.Next(cur, false)
			continue
		}
		delete(rerun, cur)

		if stage.ShouldSkip(info, e.opts.Skip) {
			e.logger.Info("stage skipped", "stage", string(cur))
			e.emit(Event{Type: EventStage, Stage: cur, StageStatus: StageSkipped, Role: info.Role, Message: info.Label})
			cur = stage.Next(cur, false)
			continue
		}
		if e.opts.Supervised && e.opts.Approve != nil && !e.opts.Approve(ctx, info) {
			e.dir.Skip(info.Role, "rejected by operator")
			e.emit(Event{Type: EventStage, Stage: cur, StageStatus: StageRejected, Role: info.Role, Message: info.Label})
			cur = stage.Next(cur, false)
			continue
		}

		e.emit(Event{Type: EventStage, Stage: cur, StageStatus: StageStarted, Role: info.Role, Message: info.Label})
		stageStart := e.now()
		output, err := e.runStage(ctx, info)
		if err != nil {
			e.metrics.ObserveStage(string(cur), "failed", e.now().Sub(stageStart))
			return err
		}
		e.metrics.ObserveStage(string(cur), "completed", e.now().Sub(stageStart))

		e.state.MarkCompleted(cur)
		e.state.SetDuration(elapsed())
		e.checkpoint(ctx)
		e.emit(Event{Type: EventStage, Stage: cur, StageStatus: StageCompleted, Role: info.Role, Message: info.Label})

		revise := stage.IsReview(cur) &&
			strings.Contains(output, director.RevisionMarker) &&
			e.state.Revisions < e.opts.MaxRevisions
		if revise {
			e.state.Revisions++
			e.feedback = output
			target := stage.Next(cur, true)
			for i := stage.Index(target); i <= stage.Index(cur); i++ {
				s := stage.All()[i].ID
				rerun[s] = true
				e.resetStageRoles(s)
			}
			e.checkpoint(ctx)
			e.logger.Info("revision requested", "stage", string(cur), "revision", e.state.Revisions)
			e.emit(Event{
				Type:        EventStage,
				Stage:       target,
				StageStatus: StageRevision,
				Role:        info.Role,
				Message:     fmt.Sprintf("%s requested revision %d/%d", info.Role, e.state.Revisions, e.opts.MaxRevisions),
			})
		}
		cur = stage.Next(cur, revise)
	}
	return nil
}

// resetStageRoles restores the redo budget of every worker of s.
func (e *Engine) resetStageRoles(s stage.Stage) {
	info, ok := stage.Lookup(s)
	if !ok || info.Role == "" {
		return
	}
	e.dir.ResetRole(info.Role)
	for _, role := range e.sessions.RecordedRoles() {
		if stage.BaseRole(role) == info.Role && role != info.Role {
			e.dir.ResetRole(role)
		}
	}
}

func (e *Engine) fail(ctx context.Context, elapsed time.Duration, cause error) (*session.RunState, error) {
	e.logger.Error("run failed", "stage", string(e.current), "error", cause)
	e.sched.KillAll()
	e.sup.KillAll()

	e.state.Status = session.StatusFailed
	e.state.SetDuration(elapsed)
	e.checkpoint(context.WithoutCancel(ctx))

	if n := e.registry.KillAll(e.opts.KillGrace); n > 0 {
		e.logger.Warn("killed remaining workers", "count", n)
	}
	e.metrics.IncRun(string(session.StatusFailed))
	e.emit(Event{
		Type:    EventRunFailed,
		Stage:   e.current,
		Message: fmt.Sprintf("Workflow failed after %d stages: %v", e.state.StageCount, cause),
	})
	if !kerrors.Is(cause, kerrors.ErrCanceled) && ctx.Err() != nil {
		cause = fmt.Errorf("%w: %w", kerrors.ErrCanceled, cause)
	}
	return e.state, kerrors.NewRunError(e.state.RunID, string(e.current), cause)
}

func (e *Engine) checkpoint(ctx context.Context) {
	if e.plan != nil {
		e.state.PlanAssignments = e.plan.AssignmentKeys()
	}
	if err := e.sessions.SaveState(ctx, e.state); err != nil {
		e.logger.Error("checkpoint failed", "error", err)
	}
}

func (e *Engine) ensurePlan() *plan.Plan {
	if e.plan == nil {
		e.plan = plan.Parse("")
	}
	return e.plan
}

// startBackground launches the supervisor, its event forwarder and the
// progress-file watcher.
func (e *Engine) startBackground(ctx context.Context) {
	e.sup.Start(ctx)
	e.forwardWG.Add(1)
	go e.forwardSupervisor()

	w, err := coordination.NewWatcher(e.mem.Dir(), e.sup.Heartbeat, e.logger)
	if err != nil {
		e.logger.Warn("progress watcher unavailable", "error", err)
		return
	}
	w.Start()
	e.stopWatcher = w.Stop
}

func (e *Engine) stopBackground() {
	if e.stopWatcher != nil {
		e.stopWatcher()
	}
	e.sup.Stop()
	e.forwardWG.Wait()
	close(e.events)
}

// forwardSupervisor relays supervisor events until the supervisor stops.
func (e *Engine) forwardSupervisor() {
	defer e.forwardWG.Done()
	for ev := range e.sup.Events() {
		switch ev.Kind {
		case supervisor.EventKilled:
			e.metrics.IncKill(ev.Role, ev.Reason)
			e.emit(Event{Type: EventSupervisorKilled, Role: ev.Role, PID: ev.PID, Message: ev.Reason, At: ev.At})
		case supervisor.EventWarning:
			e.metrics.IncWarning(ev.Role)
			e.emit(Event{Type: EventSupervisorWarning, Role: ev.Role, PID: ev.PID, Message: ev.Reason, At: ev.At})
		case supervisor.EventStats:
			for _, s := range ev.Stats {
				e.metrics.ObserveUsage(s.Role, s.RSSBytes, s.CPUPercent)
			}
			e.emit(Event{Type: EventSupervisorStats, Stats: ev.Stats, At: ev.At})
		}
	}
}

func (e *Engine) onIntervention(iv director.Intervention) {
	e.metrics.IncIntervention(string(iv.Kind))
	if iv.Kind == director.InterventionRedo {
		e.metrics.IncRedo(iv.Role)
	}
	e.emit(Event{Type: DirectorEvent(iv.Kind), Stage: e.current, Role: iv.Role, Message: iv.Message})
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	select {
	case e.events <- ev:
		return
	default:
	}
	if ev.Lossy() {
		e.dropped.Add(1)
		return
	}
	select {
	case e.events <- ev:
	case <-e.emitCtx.Done():
		e.dropped.Add(1)
	}
}
