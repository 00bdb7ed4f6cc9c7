// Package retry tracks the director's per-role redo budget.
//
// Every role starts with a fixed number of redos. Each redo the director
// issues is recorded here; once the budget is spent the director converts
// what would have been another redo into an accept, so the pipeline always
// makes forward progress.
package retry

import (
	"slices"
	"sync"
)

// DefaultMaxRedos is the per-role redo budget.
const DefaultMaxRedos = 2

// RoleState tracks redo attempts for one role.
type RoleState struct {
	Role       string   `json:"role"`
	Redos      int      `json:"redos"`
	MaxRedos   int      `json:"max_redos"`
	Reasons    []string `json:"reasons,omitempty"`
	Accepted   bool     `json:"accepted,omitempty"`
	Exhausted  bool     `json:"exhausted,omitempty"` // accepted only because the budget ran out
	LastReason string   `json:"last_reason,omitempty"`
}

// Manager manages redo state for roles.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu       sync.RWMutex
	maxRedos int
	states   map[string]*RoleState
}

// NewManager creates a manager with the given per-role budget.
func NewManager(maxRedos int) *Manager {
	if maxRedos < 0 {
		maxRedos = DefaultMaxRedos
	}
	return &Manager{
		maxRedos: maxRedos,
		states:   make(map[string]*RoleState),
	}
}

// MaxRedos returns the per-role budget.
func (m *Manager) MaxRedos() int { return m.maxRedos }

func (m *Manager) getOrCreate(role string) *RoleState {
	state, exists := m.states[role]
	if !exists {
		state = &RoleState{Role: role, MaxRedos: m.maxRedos}
		m.states[role] = state
	}
	return state
}

// Count returns the number of redos issued for role.
func (m *Manager) Count(role string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[role]; ok {
		return state.Redos
	}
	return 0
}

// CanRedo reports whether role has budget left.
func (m *Manager) CanRedo(role string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[role]
	if !ok {
		return m.maxRedos > 0
	}
	return state.Redos < state.MaxRedos
}

// RecordRedo records a redo for role and returns the new count. It does not
// check the budget; call CanRedo first.
func (m *Manager) RecordRedo(role, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreate(role)
	state.Redos++
	state.LastReason = reason
	state.Reasons = append(state.Reasons, reason)
	return state.Redos
}

// MarkAccepted records that role's output was accepted. exhausted marks an
// accept forced by a spent budget.
func (m *Manager) MarkAccepted(role string, exhausted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.getOrCreate(role)
	state.Accepted = true
	state.Exhausted = exhausted
}

// State returns a copy of role's state.
func (m *Manager) State(role string) RoleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[role]
	if !ok {
		return RoleState{Role: role, MaxRedos: m.maxRedos}
	}
	cp := *state
	cp.Reasons = slices.Clone(state.Reasons)
	return cp
}

// ExhaustedRoles returns the roles accepted only because their budget ran
// out, sorted.
func (m *Manager) ExhaustedRoles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for role, state := range m.states {
		if state.Exhausted {
			out = append(out, role)
		}
	}
	slices.Sort(out)
	return out
}

// Total returns the number of redos issued across all roles.
func (m *Manager) Total() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, state := range m.states {
		total += state.Redos
	}
	return total
}

// Reset clears role's state, restoring its full budget.
func (m *Manager) Reset(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, role)
}

// ResetAll clears all state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*RoleState)
}
