package session

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/logging"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

// Store layout relative to the state directory.
const (
	CurrentDir    = "current"
	HistoryDir    = "history"
	StateFileName = "state.json"
)

// Manager owns the per-role outputs of one run and its checkpoints.
type Manager struct {
	store   Store
	runID   string
	order   []string
	outputs map[string]string
	logger  *logging.Logger
}

// NewManager creates a manager for runID backed by store. logger may be nil.
func NewManager(store Store, runID string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		store:   store,
		runID:   runID,
		order:   stage.Roles(),
		outputs: make(map[string]string),
		logger:  logger.With("component", "session"),
	}
}

// RunID returns the run the manager writes to.
func (m *Manager) RunID() string { return m.runID }

// ResetCurrent removes the current-run outputs and state left by a
// previous run.
func (m *Manager) ResetCurrent(ctx context.Context) error {
	keys, err := m.store.List(ctx, CurrentDir+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil && !kerrors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// Record stores role's output in memory and persists it to both the current
// and the history location.
func (m *Manager) Record(ctx context.Context, role, output string) error {
	m.outputs[role] = output
	data := []byte(output)
	if err := m.store.Save(ctx, path.Join(CurrentDir, role+".md"), data); err != nil {
		return fmt.Errorf("record %s: %w", role, err)
	}
	if err := m.store.Save(ctx, path.Join(HistoryDir, m.runID, role+".md"), data); err != nil {
		return fmt.Errorf("record %s: %w", role, err)
	}
	m.logger.Debug("output recorded", "role", role, "bytes", len(output))
	return nil
}

// Output returns the stored output for role.
func (m *Manager) Output(role string) (string, bool) {
	out, ok := m.outputs[role]
	return out, ok
}

// Outputs returns a copy of every stored output.
func (m *Manager) Outputs() map[string]string {
	out := make(map[string]string, len(m.outputs))
	for k, v := range m.outputs {
		out[k] = v
	}
	return out
}

// RecordedRoles returns roles with stored output in canonical order, each
// role's sub-workers following it by number.
func (m *Manager) RecordedRoles() []string {
	var roles []string
	for _, base := range m.order {
		roles = append(roles, m.workersOf(base)...)
	}
	return roles
}

// BuildContext concatenates the output of every role before role in
// canonical order into one labeled block. Parallel sub-workers such as
// builder-2 are grouped under their base role. It returns "" when nothing
// precedes role.
func (m *Manager) BuildContext(role string) string {
	base := stage.BaseRole(role)
	limit := slices.Index(m.order, base)
	if limit < 0 {
		limit = len(m.order)
	}

	var sb strings.Builder
	for _, prior := range m.order[:limit] {
		for _, worker := range m.workersOf(prior) {
			out := strings.TrimSpace(m.outputs[worker])
			if out == "" {
				continue
			}
			fmt.Fprintf(&sb, "### Output from %s\n%s\n\n", worker, out)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// workersOf returns base followed by its numbered sub-workers that have
// output, ordered by number.
func (m *Manager) workersOf(base string) []string {
	type worker struct {
		name string
		n    int
	}
	var ws []worker
	for name := range m.outputs {
		if name == base {
			ws = append(ws, worker{name, 0})
			continue
		}
		if stage.BaseRole(name) != base {
			continue
		}
		n, err := strconv.Atoi(name[len(base)+1:])
		if err != nil {
			continue
		}
		ws = append(ws, worker{name, n})
	}
	slices.SortFunc(ws, func(a, b worker) int { return a.n - b.n })
	names := make([]string, len(ws))
	for i, w := range ws {
		names[i] = w.name
	}
	return names
}

// SaveState writes state to the current checkpoint and the run's history.
func (m *Manager) SaveState(ctx context.Context, state *RunState) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := m.store.Save(ctx, StateFileName, data); err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	if err := m.store.Save(ctx, path.Join(HistoryDir, state.RunID, StateFileName), data); err != nil {
		return fmt.Errorf("save run history: %w", err)
	}
	m.logger.Debug("checkpoint saved",
		"run_id", state.RunID,
		"status", string(state.Status),
		"completed", len(state.CompletedStages),
	)
	return nil
}

// LoadState reads the checkpoint for runID.
func (m *Manager) LoadState(ctx context.Context, runID string) (*RunState, error) {
	return loadState(ctx, m.store, runID)
}

// Restore loads runID's checkpoint and every persisted role output, and
// points the manager at that run.
func (m *Manager) Restore(ctx context.Context, runID string) (*RunState, error) {
	state, err := m.LoadState(ctx, runID)
	if err != nil {
		return nil, err
	}

	prefix := path.Join(HistoryDir, runID) + "/"
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, kerrors.NewRunError(runID, "", err)
	}
	m.runID = runID
	clear(m.outputs)
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if strings.Contains(name, "/") || !strings.HasSuffix(name, ".md") {
			continue
		}
		data, err := m.store.Load(ctx, key)
		if err != nil {
			return nil, kerrors.NewRunError(runID, "", err)
		}
		m.outputs[strings.TrimSuffix(name, ".md")] = string(data)
	}
	m.logger.Info("run restored", "run_id", runID, "outputs", len(m.outputs), "completed", len(state.CompletedStages))
	return state, nil
}

// ListRuns returns every run in the history, newest first.
func (m *Manager) ListRuns(ctx context.Context) ([]*RunState, error) {
	return ListRuns(ctx, m.store, m.logger)
}

func loadState(ctx context.Context, store Store, runID string) (*RunState, error) {
	data, err := store.Load(ctx, path.Join(HistoryDir, runID, StateFileName))
	if err != nil {
		if kerrors.Is(err, ErrNotFound) {
			return nil, kerrors.NewRunError(runID, "", kerrors.ErrRunNotFound)
		}
		return nil, kerrors.NewRunError(runID, "", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, kerrors.NewRunError(runID, "", fmt.Errorf("%w: %v", kerrors.ErrRunCorrupted, err))
	}
	if state.RunID == "" {
		state.RunID = runID
	}
	return &state, nil
}
