// Package agent defines the contract between the orchestrator and the
// external execution agent, plus the CLI-backed runner that spawns it.
package agent

import (
	"context"
	"time"
)

// Task is one request to an external agent. It is built once and never
// mutated; the component that spawns it owns it.
type Task struct {
	Role         string
	Prompt       string
	SystemPrompt string
	Context      string
	Allow        []string
	Deny         []string
	MaxTurns     int
	Model        string
	WorkDir      string
}

// Result is the outcome of one spawn, created once at process exit.
type Result struct {
	Role     string
	Output   string
	Success  bool
	ExitCode int
	Duration time.Duration
	Cost     float64
	Stderr   string
}

// UpdateKind identifies an Update.
type UpdateKind string

const (
	UpdateSpawned UpdateKind = "spawned"
	UpdateOutput  UpdateKind = "output"
	UpdateDone    UpdateKind = "done"
	UpdateError   UpdateKind = "error"
)

// Update is a message from a running worker to the control goroutine.
// SpawnID is unique per spawn, so updates from redo attempts of the same
// role can be told apart.
type Update struct {
	Kind    UpdateKind
	SpawnID string
	Role    string
	PID     int
	Chunk   string
	Result  *Result
	Err     error
}

// Runner executes a task to completion. Implementations send updates
// without blocking past ctx cancellation; updates may be nil.
type Runner interface {
	Run(ctx context.Context, task Task, updates chan<- Update) (Result, error)
}

// Send delivers u unless ctx is done first.
func Send(ctx context.Context, updates chan<- Update, u Update) {
	if updates == nil {
		return
	}
	select {
	case updates <- u:
	case <-ctx.Done():
	}
}
