package process

import (
	"errors"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultGrace is the wait between SIGTERM and SIGKILL.
const DefaultGrace = 3 * time.Second

const pollStep = 50 * time.Millisecond

// Killer terminates processes. The supervisor depends on this interface so
// tests can observe kills without signalling real processes.
type Killer interface {
	// Terminate runs the two-phase escalation for pid.
	Terminate(pid int, grace time.Duration)
	// ForceKill sends SIGKILL immediately.
	ForceKill(pid int)
}

// Signaler is the Killer backed by real OS signals.
type Signaler struct{}

// Terminate implements Killer.
func (Signaler) Terminate(pid int, grace time.Duration) { Terminate(pid, grace) }

// ForceKill implements Killer.
func (Signaler) ForceKill(pid int) { ForceKill(pid) }

// SysProcAttr returns the attributes that place a child in its own process
// group, so its whole tree can be signalled at once.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends SIGTERM to the process group of pid (or pid alone when
// the group is unavailable), waits up to grace for it to exit, then sends
// SIGKILL. It blocks for at most grace.
func Terminate(pid int, grace time.Duration) {
	if pid <= 0 {
		return
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	if !signal(pid, unix.SIGTERM) {
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		time.Sleep(pollStep)
	}
	ForceKill(pid)
}

// ForceKill sends SIGKILL to the group and the pid.
func ForceKill(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	_ = unix.Kill(pid, unix.SIGKILL)
}

// Alive reports whether pid exists, using signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// signal delivers sig to the group, falling back to the pid. It returns
// false when the process no longer exists.
func signal(pid int, sig unix.Signal) bool {
	err := unix.Kill(-pid, sig)
	if err == nil {
		return true
	}
	err = unix.Kill(pid, sig)
	return !errors.Is(err, unix.ESRCH)
}
