// Package scheduler runs independent worker tasks in bounded parallel
// batches. A batch of at most MaxParallel tasks runs fully concurrently and
// the next batch starts only after every task of the previous one resolved.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/krenk/internal/agent"
	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/logging"
)

// DefaultMaxParallel is the concurrency ceiling when none is configured.
const DefaultMaxParallel = 3

// Batches partitions n tasks into ceil(n/c) half-open index ranges of at
// most c tasks each, in input order.
func Batches(n, c int) [][2]int {
	if n <= 0 {
		return nil
	}
	if c <= 0 {
		c = DefaultMaxParallel
	}
	out := make([][2]int, 0, (n+c-1)/c)
	for start := 0; start < n; start += c {
		out = append(out, [2]int{start, min(start+c, n)})
	}
	return out
}

// Scheduler fans tasks out to a Runner.
type Scheduler struct {
	runner      agent.Runner
	maxParallel int
	logger      *logging.Logger

	mu      sync.Mutex
	running map[int]context.CancelFunc
	nextID  int
	killed  bool
}

// New creates a scheduler.
func New(runner agent.Runner, maxParallel int, logger *logging.Logger) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Scheduler{
		runner:      runner,
		maxParallel: maxParallel,
		logger:      logger.With("component", "scheduler"),
		running:     make(map[int]context.CancelFunc),
	}
}

// MaxParallel returns the concurrency ceiling.
func (s *Scheduler) MaxParallel() int { return s.maxParallel }

// Run executes tasks and returns their results in input order. The first
// task error cancels the rest of its batch and fails the run; later batches
// are not started.
func (s *Scheduler) Run(ctx context.Context, tasks []agent.Task, updates chan<- agent.Update) ([]agent.Result, error) {
	results := make([]agent.Result, len(tasks))
	batches := Batches(len(tasks), s.maxParallel)

	for bi, b := range batches {
		if s.isKilled() {
			return results, fmt.Errorf("scheduler: %w", kerrors.ErrCanceled)
		}
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("scheduler: %w: %w", kerrors.ErrCanceled, err)
		}

		s.logger.Info("starting batch", "batch", bi+1, "of", len(batches), "size", b[1]-b[0])
		g, gctx := errgroup.WithContext(ctx)
		for i := b[0]; i < b[1]; i++ {
			task := tasks[i]
			taskCtx, id := s.track(gctx)
			g.Go(func() error {
				defer s.untrack(id)
				res, err := s.runner.Run(taskCtx, task, updates)
				results[i] = res
				if err != nil {
					return fmt.Errorf("task %s: %w", task.Role, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			s.logger.Error("batch failed", "batch", bi+1, "error", err)
			return results, err
		}
	}
	return results, nil
}

// KillAll cancels every in-flight task and prevents further batches from
// starting. It returns the number of tasks cancelled.
func (s *Scheduler) KillAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	n := len(s.running)
	for id, cancel := range s.running {
		cancel()
		delete(s.running, id)
	}
	return n
}

// Running returns the number of in-flight tasks.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) track(parent context.Context) (context.Context, int) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.running[s.nextID] = cancel
	return ctx, s.nextID
}

func (s *Scheduler) untrack(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
}

func (s *Scheduler) isKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}
