package orchestrator

import (
	"context"
	"time"

	"github.com/Iron-Ham/krenk/internal/agent"
	resource "github.com/Iron-Ham/krenk/internal/instance/metrics"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	"github.com/Iron-Ham/krenk/internal/instance/supervisor"
	"github.com/Iron-Ham/krenk/internal/logging"
	kmetrics "github.com/Iron-Ham/krenk/internal/metrics"
	"github.com/Iron-Ham/krenk/internal/orchestrator/director"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/roles"
)

// DefaultMaxRevisions bounds how often review stages may send the run back
// to coding.
const DefaultMaxRevisions = 2

// ApproveFunc gates a stage in supervised mode. Returning false skips it.
type ApproveFunc func(ctx context.Context, info stage.Info) bool

// Options configure one run.
type Options struct {
	// WorkDir is the project directory workers run in. State lives in
	// WorkDir/.krenk.
	WorkDir string

	MaxParallel  int
	MaxRevisions int

	// Skip names stages by id, role or label.
	Skip []string

	Supervised bool
	Approve    ApproveFunc

	// RoleTurns and RoleModels override the catalog per base role.
	RoleTurns  map[string]int
	RoleModels map[string]string

	AgentBinary string
	KillGrace   time.Duration
	EventBuffer int

	Director   director.Policy
	Supervisor supervisor.Config
}

// DefaultOptions returns options for workDir with every default applied.
func DefaultOptions(workDir string) Options {
	return Options{
		WorkDir:      workDir,
		MaxParallel:  3,
		MaxRevisions: DefaultMaxRevisions,
		KillGrace:    process.DefaultGrace,
		EventBuffer:  256,
		Director:     director.DefaultPolicy(),
		Supervisor:   supervisor.DefaultConfig(),
	}
}

// Deps are the engine's replaceable collaborators. Zero values select the
// production implementations.
type Deps struct {
	Runner   agent.Runner
	Sampler  resource.Sampler
	Killer   process.Killer
	Registry *process.Registry
	Catalog  *roles.Catalog
	Metrics  *kmetrics.Metrics
	Logger   *logging.Logger
	Now      func() time.Time
}

func (o *Options) applyDefaults() {
	def := DefaultOptions(o.WorkDir)
	if o.MaxParallel <= 0 {
		o.MaxParallel = def.MaxParallel
	}
	if o.MaxRevisions < 0 {
		o.MaxRevisions = def.MaxRevisions
	}
	if o.KillGrace <= 0 {
		o.KillGrace = def.KillGrace
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = def.EventBuffer
	}
	if o.Supervisor.KillGrace <= 0 {
		o.Supervisor.KillGrace = o.KillGrace
	}
}
