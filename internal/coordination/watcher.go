package coordination

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/krenk/internal/logging"
)

// Watcher turns worker writes to role progress files into heartbeats.
type Watcher struct {
	watcher   *fsnotify.Watcher
	heartbeat func(role string)
	logger    *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher watches dir. heartbeat is called from the watcher goroutine.
func NewWatcher(dir string, heartbeat func(role string), logger *logging.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		watcher:   w,
		heartbeat: heartbeat,
		logger:    logger.With("component", "memory-watcher"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins delivering heartbeats.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop ends the watch loop and releases the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.done
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if role, ok := progressRole(event); ok {
				w.heartbeat(role)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// progressRole returns the role whose progress file event touched. Only
// in-place writes count; atomic exports show up as create and rename.
func progressRole(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) {
		return "", false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".md") {
		return "", false
	}
	role := strings.TrimSuffix(base, ".md")
	if role == "" || IsBaseSection(role) {
		return "", false
	}
	return role, true
}
