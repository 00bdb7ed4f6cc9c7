// Package supervisor is the watchdog over every spawned worker process.
//
// A single goroutine owns the tracked-process table. Track, Untrack, Touch,
// Heartbeat, Running and KillAll are messages to that goroutine, so the
// table is never mutated concurrently. On every poll tick the supervisor
// samples all tracked pids with one batched query, classifies each with
// [detect.HealthDetector], kills critical processes and reports the rest.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/krenk/internal/instance/detect"
	"github.com/Iron-Ham/krenk/internal/instance/metrics"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	"github.com/Iron-Ham/krenk/internal/logging"
)

// EventKind identifies a supervisor event.
type EventKind string

const (
	EventStats   EventKind = "stats"
	EventWarning EventKind = "warning"
	EventKilled  EventKind = "killed"
)

// ProcessStats is one row of a stats snapshot.
type ProcessStats struct {
	PID        int
	Role       string
	RSSBytes   int64
	CPUPercent float64
	Uptime     time.Duration
	Idle       time.Duration
	Status     detect.Status
}

// Event is emitted on the supervisor's event channel.
type Event struct {
	Kind   EventKind
	PID    int
	Role   string
	Reason string
	Stats  []ProcessStats
	At     time.Time
}

// Config holds supervisor settings.
type Config struct {
	PollInterval time.Duration
	KillGrace    time.Duration
	Thresholds   detect.Thresholds
	EventBuffer  int
}

// DefaultConfig returns the standard watchdog settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		KillGrace:    process.DefaultGrace,
		Thresholds:   detect.DefaultThresholds(),
		EventBuffer:  64,
	}
}

type tracked struct {
	pid          int
	role         string
	spawnedAt    time.Time
	lastActivity time.Time
	warned       bool
}

type cmdKind int

const (
	cmdTrack cmdKind = iota
	cmdUntrack
	cmdTouch
	cmdHeartbeat
	cmdRunning
	cmdKillAll
)

type command struct {
	kind  cmdKind
	pid   int
	role  string
	reply chan int
}

// Supervisor watches worker processes. Create with New, then Start.
type Supervisor struct {
	cfg      Config
	sampler  metrics.Sampler
	killer   process.Killer
	detector *detect.HealthDetector
	logger   *logging.Logger
	now      func() time.Time

	cmds      chan command
	events    chan Event
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}

	procs map[int]*tracked
}

// New creates a supervisor. Nil collaborators fall back to the real ps
// sampler, the signal-based killer and a no-op logger.
func New(cfg Config, sampler metrics.Sampler, killer process.Killer, logger *logging.Logger) *Supervisor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = def.KillGrace
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if sampler == nil {
		sampler = metrics.NewPSSampler()
	}
	if killer == nil {
		killer = process.Signaler{}
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Supervisor{
		cfg:      cfg,
		sampler:  sampler,
		killer:   killer,
		detector: detect.NewHealthDetector(cfg.Thresholds),
		logger:   logger.With("component", "supervisor"),
		now:      time.Now,
		cmds:     make(chan command, 256),
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		procs:    make(map[int]*tracked),
	}
}

// Events returns the supervisor's outbound event stream. It is closed when
// the supervisor stops.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Start launches the supervisor goroutine. Subsequent calls are no-ops.
func (s *Supervisor) Start(ctx context.Context) {
	s.startOnce.Do(func() { go s.loop(ctx) })
}

// Stop ends the supervisor without killing tracked processes.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Track begins watching pid.
func (s *Supervisor) Track(pid int, role string) {
	s.send(command{kind: cmdTrack, pid: pid, role: role})
}

// Untrack stops watching pid, typically because it exited.
func (s *Supervisor) Untrack(pid int) { s.send(command{kind: cmdUntrack, pid: pid}) }

// Touch refreshes pid's last-activity time.
func (s *Supervisor) Touch(pid int) { s.send(command{kind: cmdTouch, pid: pid}) }

// Heartbeat refreshes the last-activity time of every process running role.
// It carries out-of-band activity signals such as progress-file writes.
func (s *Supervisor) Heartbeat(role string) { s.send(command{kind: cmdHeartbeat, role: role}) }

// Running returns the number of tracked processes.
func (s *Supervisor) Running() int {
	reply := make(chan int, 1)
	if !s.send(command{kind: cmdRunning, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-s.done:
		return 0
	}
}

// KillAll stops polling and force-kills every tracked process. It returns
// the number of processes killed; the supervisor is stopped afterwards.
func (s *Supervisor) KillAll() int {
	reply := make(chan int, 1)
	if !s.send(command{kind: cmdKillAll, reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		<-s.done
		return n
	case <-s.done:
		return 0
	}
}

func (s *Supervisor) send(c command) bool {
	select {
	case s.cmds <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case c := <-s.cmds:
			if s.handle(c) {
				return
			}
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// handle applies one command and reports whether the loop must exit.
func (s *Supervisor) handle(c command) bool {
	now := s.now()
	switch c.kind {
	case cmdTrack:
		s.procs[c.pid] = &tracked{pid: c.pid, role: c.role, spawnedAt: now, lastActivity: now}
		s.logger.Debug("tracking process", "pid", c.pid, "role", c.role)
	case cmdUntrack:
		delete(s.procs, c.pid)
	case cmdTouch:
		if p, ok := s.procs[c.pid]; ok {
			p.lastActivity = now
		}
	case cmdHeartbeat:
		for _, p := range s.procs {
			if p.role == c.role {
				p.lastActivity = now
			}
		}
	case cmdRunning:
		c.reply <- len(s.procs)
	case cmdKillAll:
		n := len(s.procs)
		for pid, p := range s.procs {
			s.killer.ForceKill(pid)
			s.logger.Warn("force-killed process", "pid", pid, "role", p.role)
		}
		clear(s.procs)
		c.reply <- n
		return true
	}
	return false
}

func (s *Supervisor) poll(ctx context.Context) {
	if len(s.procs) == 0 {
		return
	}
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}

	sampleCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	usage, err := s.sampler.Sample(sampleCtx, pids)
	cancel()
	if err != nil {
		s.logger.Warn("resource sample failed", "error", err)
		usage = map[int]metrics.Usage{}
	}

	now := s.now()
	stats := make([]ProcessStats, 0, len(pids))
	for _, pid := range pids {
		p := s.procs[pid]
		u := usage[pid]
		in := detect.Input{Now: now, SpawnedAt: p.spawnedAt, LastActivity: p.lastActivity, RSSBytes: u.RSSBytes}
		a := s.detector.Classify(in)

		stats = append(stats, ProcessStats{
			PID:        pid,
			Role:       p.role,
			RSSBytes:   u.RSSBytes,
			CPUPercent: u.CPUPercent,
			Uptime:     in.Uptime(),
			Idle:       in.Idle(),
			Status:     a.Status,
		})

		switch a.Status {
		case detect.StatusCritical:
			delete(s.procs, pid)
			go s.killer.Terminate(pid, s.cfg.KillGrace)
			s.logger.Warn("killing process", "pid", pid, "role", p.role, "reason", a.Reason)
			s.emit(ctx, Event{Kind: EventKilled, PID: pid, Role: p.role, Reason: a.Reason, At: now})
		case detect.StatusWarning:
			if !p.warned {
				p.warned = true
				s.logger.Info("process warning", "pid", pid, "role", p.role, "reason", a.Reason)
				s.emit(ctx, Event{Kind: EventWarning, PID: pid, Role: p.role, Reason: a.Reason, At: now})
			}
		}
	}

	select {
	case s.events <- Event{Kind: EventStats, Stats: stats, At: now}:
	default:
	}
}

// emit delivers a must-not-drop event, giving up only when the supervisor
// is stopping.
func (s *Supervisor) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	case <-ctx.Done():
	}
}
