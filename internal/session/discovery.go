package session

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/krenk/internal/logging"
)

// StateDirName is the per-workdir state directory.
const StateDirName = ".krenk"

// StateDir returns the state directory for workDir.
func StateDir(workDir string) string {
	return filepath.Join(workDir, StateDirName)
}

// ListRuns returns every run with a readable checkpoint in store, newest
// first. Corrupted runs are logged and skipped.
func ListRuns(ctx context.Context, store Store, logger *logging.Logger) ([]*RunState, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	keys, err := store.List(ctx, HistoryDir+"/")
	if err != nil {
		return nil, err
	}

	var runs []*RunState
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) != 3 || parts[2] != StateFileName {
			continue
		}
		state, err := loadState(ctx, store, parts[1])
		if err != nil {
			logger.Warn("skipping unreadable run", "run_id", parts[1], "error", err)
			continue
		}
		runs = append(runs, state)
	}
	slices.SortFunc(runs, func(a, b *RunState) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(b.RunID, a.RunID)
	})
	return runs, nil
}

// RunExists reports whether runID has a checkpoint.
func RunExists(ctx context.Context, store Store, runID string) bool {
	ok, err := store.Exists(ctx, filepath.ToSlash(filepath.Join(HistoryDir, runID, StateFileName)))
	return err == nil && ok
}

// LatestResumable returns the newest run that did not complete, or nil.
func LatestResumable(ctx context.Context, store Store, logger *logging.Logger) (*RunState, error) {
	runs, err := ListRuns(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if !r.Finished() {
			return r, nil
		}
	}
	return nil, nil
}
