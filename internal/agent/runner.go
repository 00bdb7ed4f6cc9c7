package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	"github.com/Iron-Ham/krenk/internal/logging"
)

const (
	// DefaultBinary is the external agent executable.
	DefaultBinary = "claude"

	defaultStderrTail = 8 * 1024
	maxLineSize       = 16 * 1024 * 1024
)

// CLIRunner spawns the agent CLI in stream-json mode, one process per task.
type CLIRunner struct {
	Binary   string
	Env      []string
	Grace    time.Duration
	Registry *process.Registry
	Logger   *logging.Logger
}

// NewCLIRunner creates a runner that registers every spawned pid in reg.
func NewCLIRunner(binary string, reg *process.Registry, logger *logging.Logger) *CLIRunner {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIRunner{Binary: binary, Grace: process.DefaultGrace, Registry: reg, Logger: logger}
}

// Args builds the agent command line for task.
func Args(task Task) []string {
	args := []string{"-p", "--output-format", "stream-json", "--verbose"}
	if task.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(task.MaxTurns))
	}
	if task.Model != "" {
		args = append(args, "--model", task.Model)
	}
	if len(task.Allow) > 0 {
		args = append(args, "--allowedTools", strings.Join(task.Allow, ","))
	}
	if len(task.Deny) > 0 {
		args = append(args, "--disallowedTools", strings.Join(task.Deny, ","))
	}
	if task.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", task.SystemPrompt)
	}
	return append(args, "--", FullPrompt(task))
}

// FullPrompt joins accumulated context and the task prompt.
func FullPrompt(task Task) string {
	if strings.TrimSpace(task.Context) == "" {
		return task.Prompt
	}
	return "## Context from previous stages\n\n" + task.Context + "\n\n## Your task\n\n" + task.Prompt
}

// Run spawns the agent and blocks until it exits. A non-zero exit is a
// failed Result, not an error; errors are reserved for spawn failures and
// cancellation.
func (r *CLIRunner) Run(ctx context.Context, task Task, updates chan<- Update) (Result, error) {
	spawnID := uuid.NewString()
	logger := r.Logger.WithRole(task.Role).With("spawn_id", spawnID)
	start := time.Now()

	cmd := exec.Command(r.Binary, Args(task)...)
	cmd.Dir = task.WorkDir
	cmd.SysProcAttr = process.SysProcAttr()
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	stderr := newTailBuffer(defaultStderrTail)
	cmd.Stderr = stderr
	cmd.WaitDelay = r.grace() + time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Role: task.Role, ExitCode: -1}, kerrors.NewWorkerError(task.Role, kerrors.ErrSpawnFailed).WithDetail(err.Error())
	}
	if err := cmd.Start(); err != nil {
		logger.Error("spawn failed", "binary", r.Binary, "error", err)
		return Result{Role: task.Role, ExitCode: -1}, kerrors.NewWorkerError(task.Role, kerrors.ErrSpawnFailed).WithDetail(err.Error())
	}

	pid := cmd.Process.Pid
	if r.Registry != nil {
		r.Registry.Add(pid, task.Role)
		defer r.Registry.Remove(pid)
	}
	logger.Info("worker spawned", "pid", pid)
	Send(ctx, updates, Update{Kind: UpdateSpawned, SpawnID: spawnID, Role: task.Role, PID: pid})

	exited := make(chan struct{})
	var killWG sync.WaitGroup
	killWG.Add(1)
	go func() {
		defer killWG.Done()
		select {
		case <-ctx.Done():
			logger.Warn("terminating worker", "pid", pid, "reason", ctx.Err())
			process.Terminate(pid, r.grace())
		case <-exited:
		}
	}()

	lines, scanErr := r.scan(ctx, stdout, spawnID, task.Role, pid, updates)
	waitErr := cmd.Wait()
	close(exited)
	killWG.Wait()

	text, cost := FinalText(lines)
	result := Result{
		Role:     task.Role,
		Output:   text,
		ExitCode: exitCode(cmd, waitErr),
		Duration: time.Since(start),
		Cost:     cost,
		Stderr:   stderr.String(),
	}
	result.Success = waitErr == nil && scanErr == nil && ctx.Err() == nil

	if scanErr != nil {
		Send(ctx, updates, Update{Kind: UpdateError, SpawnID: spawnID, Role: task.Role, PID: pid, Err: scanErr})
	}
	Send(ctx, updates, Update{Kind: UpdateDone, SpawnID: spawnID, Role: task.Role, PID: pid, Result: &result})

	logger.Info("worker exited",
		"pid", pid,
		"exit_code", result.ExitCode,
		"duration_ms", result.Duration.Milliseconds(),
		"output_len", len(result.Output),
	)

	if ctx.Err() != nil {
		return result, kerrors.NewWorkerError(task.Role, fmt.Errorf("%w: %w", kerrors.ErrCanceled, ctx.Err())).
			WithPID(pid).WithExitCode(result.ExitCode)
	}
	return result, nil
}

// scan reads stdout line by line, forwarding assistant text as output
// chunks. Every line is kept for result reconstruction.
func (r *CLIRunner) scan(ctx context.Context, stdout io.Reader, spawnID, role string, pid int, updates chan<- Update) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)

		msg, err := ParseStreamMessage([]byte(line))
		if err != nil {
			continue
		}
		if msg.Type == "assistant" {
			if text := msg.Text(); text != "" {
				Send(ctx, updates, Update{Kind: UpdateOutput, SpawnID: spawnID, Role: role, PID: pid, Chunk: text})
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// Drain so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
		return lines, fmt.Errorf("read worker output: %w", err)
	}
	return lines, nil
}

func (r *CLIRunner) grace() time.Duration {
	if r.Grace <= 0 {
		return process.DefaultGrace
	}
	return r.Grace
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	if excess := len(t.buf) + len(p) - t.max; excess > 0 {
		t.buf = t.buf[excess:]
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
