package process

import (
	"slices"
	"sync"
	"time"
)

// Entry is one registered worker process.
type Entry struct {
	PID       int
	Role      string
	StartedAt time.Time
}

// Registry is the set of live worker processes owned by one engine.
// It is safe for concurrent use: runners add and remove entries from their
// own goroutines while the shutdown path snapshots it.
type Registry struct {
	mu      sync.Mutex
	entries map[int]Entry
	killer  Killer
}

// NewRegistry creates an empty registry. A nil killer uses [Signaler].
func NewRegistry(killer Killer) *Registry {
	if killer == nil {
		killer = Signaler{}
	}
	return &Registry{entries: make(map[int]Entry), killer: killer}
}

// Add registers pid for role.
func (r *Registry) Add(pid int, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[pid] = Entry{PID: pid, Role: role, StartedAt: time.Now()}
}

// Remove forgets pid. Removing an unknown pid is a no-op.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, pid)
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the registered processes ordered by pid.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b Entry) int { return a.PID - b.PID })
	return out
}

// KillAll terminates every registered process concurrently and clears the
// registry. It returns once every escalation has finished.
func (r *Registry) KillAll(grace time.Duration) int {
	r.mu.Lock()
	pids := make([]int, 0, len(r.entries))
	for pid := range r.entries {
		pids = append(pids, pid)
	}
	clear(r.entries)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, pid := range pids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.killer.Terminate(pid, grace)
		}()
	}
	wg.Wait()
	return len(pids)
}
