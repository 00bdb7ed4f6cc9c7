package coordination

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(t.TempDir(), WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return m
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestNewMemory_ExportsBaseSections(t *testing.T) {
	m := newTestMemory(t)
	for _, name := range BaseSections {
		if _, err := os.Stat(filepath.Join(m.Dir(), name+".md")); err != nil {
			t.Errorf("section %s not exported: %v", name, err)
		}
	}
}

func TestMemory_AppendAndMirror(t *testing.T) {
	m := newTestMemory(t)
	if err := m.AddDirective("  keep the API stable  "); err != nil {
		t.Fatal(err)
	}
	if err := m.AddBlocker("builder", "missing dependency"); err != nil {
		t.Fatal(err)
	}
	if err := m.LogDecision("tester", "accepted"); err != nil {
		t.Fatal(err)
	}

	if got := m.Get(SectionDirectives); got != "- [14:05:09] keep the API stable\n" {
		t.Errorf("directives = %q", got)
	}
	if got := m.Get(SectionBlockers); !strings.Contains(got, "(builder) missing dependency") {
		t.Errorf("blockers = %q", got)
	}

	mirror := readFile(t, filepath.Join(m.Dir(), "decisions.md"))
	if !strings.HasPrefix(mirror, "# Decisions\n\n") || !strings.Contains(mirror, "tester: accepted") {
		t.Errorf("decisions mirror = %q", mirror)
	}
}

func TestMemory_OverwriteRoleSection(t *testing.T) {
	m := newTestMemory(t)
	if err := m.Overwrite("builder-1", "halfway"); err != nil {
		t.Fatal(err)
	}
	if err := m.Overwrite("builder-1", "done"); err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, m.RoleFile("builder-1")); got != "# builder-1 progress\n\ndone" {
		t.Errorf("role mirror = %q", got)
	}
	want := append(slices.Clone(BaseSections), "builder-1")
	if !slices.Equal(m.Sections(), want) {
		t.Errorf("Sections() = %v, want %v", m.Sections(), want)
	}
}

func TestMemory_InitKeepsExistingNotes(t *testing.T) {
	m := newTestMemory(t)
	if wrote, err := m.Init("builder", "- status: active\n"); err != nil || !wrote {
		t.Fatalf("Init() = %v, %v; want first write", wrote, err)
	}

	notes := "# builder progress\n\n- status: active\n- scaffolded cmd/\n"
	if err := os.WriteFile(m.RoleFile("builder"), []byte(notes), 0o644); err != nil {
		t.Fatal(err)
	}
	if wrote, err := m.Init("builder", "- status: active\n"); err != nil || wrote {
		t.Fatalf("second Init() = %v, %v; want no write", wrote, err)
	}
	if got := readFile(t, m.RoleFile("builder")); got != notes {
		t.Errorf("role file = %q, want worker notes kept", got)
	}

	// A file left by an earlier process is kept as well.
	other := filepath.Join(m.Dir(), "tester.md")
	if err := os.WriteFile(other, []byte("old notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if wrote, _ := m.Init("tester", "- status: active\n"); wrote {
		t.Error("Init() should not replace an existing file")
	}
}

func TestMemory_RejectsBadSection(t *testing.T) {
	m := newTestMemory(t)
	for _, name := range []string{"", "../escape", ".hidden", `a\b`} {
		if err := m.Overwrite(name, "x"); err == nil {
			t.Errorf("Overwrite(%q) should fail", name)
		}
	}
}

func TestMemory_FullContext(t *testing.T) {
	m := newTestMemory(t)
	ctx := m.FullContext()
	if !strings.Contains(ctx, "## Directives\n(none)") || !strings.Contains(ctx, "## Status\n(none)") {
		t.Errorf("directives and status must always be present:\n%s", ctx)
	}
	if strings.Contains(ctx, "## Learnings") || strings.Contains(ctx, "## Blockers") {
		t.Errorf("empty optional sections must be omitted:\n%s", ctx)
	}

	_ = m.AddLearning("uses Go modules")
	_ = m.SetStatus("builder: active")
	ctx = m.FullContext()
	if !strings.Contains(ctx, "## Learnings") || !strings.Contains(ctx, "builder: active") {
		t.Errorf("FullContext missing content:\n%s", ctx)
	}
	if strings.Index(ctx, "## Directives") > strings.Index(ctx, "## Status") {
		t.Error("directives must precede status")
	}
}

func TestMemory_Reset(t *testing.T) {
	m := newTestMemory(t)
	_ = m.AddLearning("x")
	_ = m.Overwrite("architect", "notes")
	if err := os.WriteFile(m.RoleFile("stale"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Get(SectionLearnings) != "" {
		t.Error("learnings not cleared")
	}
	for _, role := range []string{"architect", "stale"} {
		if _, err := os.Stat(m.RoleFile(role)); !os.IsNotExist(err) {
			t.Errorf("%s.md should be removed", role)
		}
	}
	if _, err := os.Stat(filepath.Join(m.Dir(), "status.md")); err != nil {
		t.Error("base sections should be re-exported after reset")
	}
}
