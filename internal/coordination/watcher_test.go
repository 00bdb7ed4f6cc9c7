package coordination

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestProgressRole(t *testing.T) {
	tests := []struct {
		name string
		op   fsnotify.Op
		want string
		ok   bool
	}{
		{"/m/builder.md", fsnotify.Write, "builder", true},
		{"/m/builder-2.md", fsnotify.Write, "builder-2", true},
		{"/m/builder.md", fsnotify.Create, "", false},
		{"/m/builder.md", fsnotify.Rename, "", false},
		{"/m/status.md", fsnotify.Write, "", false},
		{"/m/.builder.md.tmp-123", fsnotify.Write, "", false},
		{"/m/notes.txt", fsnotify.Write, "", false},
	}
	for _, tc := range tests {
		role, ok := progressRole(fsnotify.Event{Name: tc.name, Op: tc.op})
		if role != tc.want || ok != tc.ok {
			t.Errorf("progressRole(%s, %v) = %q, %v; want %q, %v", tc.name, tc.op, role, ok, tc.want, tc.ok)
		}
	}
}

func TestWatcher_HeartbeatOnWorkerWrite(t *testing.T) {
	m := newTestMemory(t)
	beats := make(chan string, 16)
	w, err := NewWatcher(m.Dir(), func(role string) { beats <- role }, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Start()
	defer w.Stop()

	// Our own export must not count as worker activity.
	if err := m.Overwrite("tester", "started"); err != nil {
		t.Fatal(err)
	}
	select {
	case role := <-beats:
		t.Fatalf("export produced heartbeat for %s", role)
	case <-time.After(100 * time.Millisecond):
	}

	f, err := os.OpenFile(filepath.Join(m.Dir(), "tester.md"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("- ran 12 tests\n")
	_ = f.Close()

	select {
	case role := <-beats:
		if role != "tester" {
			t.Errorf("heartbeat role = %q, want tester", role)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat after worker write")
	}
}
