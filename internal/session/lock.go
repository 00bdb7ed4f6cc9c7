package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/instance/process"
	"github.com/Iron-Ham/krenk/internal/logging"
)

// LockFileName is the lock file inside the state directory.
const LockFileName = "run.lock"

// Lock is an acquired working-directory lock.
type Lock struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	lockFile string
	logger   *logging.Logger
}

// AcquireLock takes the run lock in stateDir. A lock whose owning process is
// gone is treated as stale and replaced. It returns an error wrapping
// ErrRunLocked when a live process holds the lock. logger may be nil.
func AcquireLock(stateDir, runID string, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	lockPath := filepath.Join(stateDir, LockFileName)

	if existing, err := ReadLock(lockPath); err == nil {
		if process.Alive(existing.PID) && existing.PID != os.Getpid() {
			logger.Error("failed to acquire lock", "run_id", runID, "holder_pid", existing.PID, "holder_run", existing.RunID)
			return nil, fmt.Errorf("%w: run %s, PID %d on %s", kerrors.ErrRunLocked, existing.RunID, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock cleaned", "old_pid", existing.PID, "old_run", existing.RunID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		lockFile:  lockPath,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL so a concurrent acquirer loses the race cleanly.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock file created concurrently", kerrors.ErrRunLocked)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Info("run lock acquired", "run_id", runID, "pid", lock.PID)
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}
	existing, err := ReadLock(l.lockFile)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.lockFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Info("run lock released", "run_id", l.RunID)
	}
	return nil
}

// ReadLock decodes a lock file.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath
	return &lock, nil
}

// IsLocked reports whether a live process holds the lock in stateDir.
// A stale lock is returned with false.
func IsLocked(stateDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(stateDir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, process.Alive(lock.PID)
}

// CleanStaleLock removes the lock in stateDir if its owner has exited.
func CleanStaleLock(stateDir string, logger *logging.Logger) (bool, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	lock, err := ReadLock(lockPath)
	if err != nil || process.Alive(lock.PID) {
		return false, nil
	}
	if err := os.Remove(lockPath); err != nil {
		return false, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	if logger != nil {
		logger.Warn("stale lock cleaned", "old_pid", lock.PID, "old_run", lock.RunID)
	}
	return true, nil
}
