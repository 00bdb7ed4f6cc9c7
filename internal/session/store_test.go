package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
)

func TestFileStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "nested", ".krenk"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.Save(ctx, "history/run-1/analyst.md", []byte("findings")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := store.Load(ctx, "history/run-1/analyst.md")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(data) != "findings" {
		t.Errorf("Load = %q, want %q", data, "findings")
	}

	ok, err := store.Exists(ctx, "history/run-1/analyst.md")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; want true", ok, err)
	}

	if err := store.Delete(ctx, "history/run-1/analyst.md"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "history/run-1/analyst.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "history/run-1/analyst.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir())

	_ = store.Save(ctx, "state.json", []byte("one"))
	_ = store.Save(ctx, "state.json", []byte("two"))

	data, _ := store.Load(ctx, "state.json")
	if string(data) != "two" {
		t.Errorf("Load = %q, want %q", data, "two")
	}

	entries, _ := os.ReadDir(store.BaseDir())
	for _, e := range entries {
		if e.Name() != "state.json" {
			t.Errorf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestFileStore_List(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir())
	for _, k := range []string{"current/b.md", "current/a.md", "history/r1/state.json", "state.json"} {
		if err := store.Save(ctx, k, []byte("x")); err != nil {
			t.Fatalf("Save(%s) failed: %v", k, err)
		}
	}

	got, err := store.List(ctx, "current/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"current/a.md", "current/b.md"}; !slices.Equal(got, want) {
		t.Errorf("List(current/) = %v, want %v", got, want)
	}

	all, _ := store.List(ctx, "")
	if len(all) != 4 {
		t.Errorf("List(\"\") = %v, want 4 keys", all)
	}

	missing, err := store.List(ctx, "nope/")
	if err != nil || len(missing) != 0 {
		t.Errorf("List(nope/) = %v, %v; want empty", missing, err)
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir())

	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		if err := store.Save(ctx, key, []byte("x")); !errors.Is(err, kerrors.ErrInvalidInput) {
			t.Errorf("Save(%q) error = %v, want ErrInvalidInput", key, err)
		}
	}
}
