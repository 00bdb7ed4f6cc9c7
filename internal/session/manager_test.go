package session

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

func newTestManager(t *testing.T, runID string) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewManager(store, runID, nil), store
}

func TestManager_RecordPersistsTwice(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")

	if err := m.Record(ctx, "analyst", "the analysis"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	for _, key := range []string{"current/analyst.md", "history/run-1/analyst.md"} {
		data, err := store.Load(ctx, key)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", key, err)
		}
		if string(data) != "the analysis" {
			t.Errorf("%s = %q", key, data)
		}
	}
	if out, ok := m.Output("analyst"); !ok || out != "the analysis" {
		t.Errorf("Output = %q, %v", out, ok)
	}
}

func TestManager_BuildContext(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "run-1")

	if got := m.BuildContext("analyst"); got != "" {
		t.Errorf("BuildContext(first role) = %q, want empty", got)
	}

	_ = m.Record(ctx, "analyst", "A")
	_ = m.Record(ctx, "strategist", "S")
	_ = m.Record(ctx, "builder-2", "B2")
	_ = m.Record(ctx, "builder-1", "B1")
	_ = m.Record(ctx, "reviewer", "R")

	got := m.BuildContext("strategist")
	if got != "### Output from analyst\nA" {
		t.Errorf("BuildContext(strategist) = %q", got)
	}

	qa := m.BuildContext("qa")
	for _, want := range []string{"from analyst", "from strategist", "from builder-1", "from builder-2"} {
		if !strings.Contains(qa, want) {
			t.Errorf("BuildContext(qa) missing %q:\n%s", want, qa)
		}
	}
	if strings.Index(qa, "builder-1") > strings.Index(qa, "builder-2") {
		t.Error("sub-workers should be ordered by number")
	}
	if strings.Contains(qa, "reviewer") {
		t.Error("later roles must not appear in context")
	}

	if m.BuildContext("builder-3") != m.BuildContext("builder") {
		t.Error("sub-worker context should match its base role")
	}
}

func TestManager_RecordedRoles(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "run-1")
	_ = m.Record(ctx, "tester", "T")
	_ = m.Record(ctx, "builder-2", "B2")
	_ = m.Record(ctx, "analyst", "A")
	_ = m.Record(ctx, "builder-1", "B1")

	want := []string{"analyst", "builder-1", "builder-2", "tester"}
	if got := m.RecordedRoles(); !slices.Equal(got, want) {
		t.Errorf("RecordedRoles() = %v, want %v", got, want)
	}
}

func TestManager_SaveLoadState(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")

	state := NewRunState("run-1", "build a thing", []string{"designer"}, time.Now())
	state.MarkCompleted(stage.Analyzing)
	state.MarkCompleted(stage.Planning)
	state.MarkCompleted(stage.Planning)
	state.PlanAssignments = []string{"builder", "qa"}
	state.SetDuration(90 * time.Second)

	if err := m.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, StateFileName); !ok {
		t.Error("current state.json missing")
	}

	got, err := m.LoadState(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !slices.Equal(got.CompletedStages, []stage.Stage{stage.Analyzing, stage.Planning}) {
		t.Errorf("CompletedStages = %v", got.CompletedStages)
	}
	if got.StageCount != 2 || got.Duration() != 90*time.Second || got.Status != StatusRunning {
		t.Errorf("state = %+v", got)
	}
	if !slices.Equal(got.SkipStages, []string{"designer"}) || !slices.Equal(got.PlanAssignments, []string{"builder", "qa"}) {
		t.Errorf("state = %+v", got)
	}
}

func TestManager_StateFileKeys(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")

	state := NewRunState("run-1", "build a thing", []string{"designer"}, time.Now())
	state.MarkCompleted(stage.Analyzing)
	state.SetDuration(1500 * time.Millisecond)
	if err := m.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}

	data, err := store.Load(ctx, StateFileName)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state.json is not an object: %v", err)
	}
	for _, key := range []string{"prompt", "completedStages", "skipStages", "status", "runId", "stageCount", "duration", "planAssignments"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("state.json missing key %q: %s", key, data)
		}
	}
	if raw["stageCount"] != float64(1) {
		t.Errorf("stageCount = %v, want 1", raw["stageCount"])
	}
	if raw["duration"] != float64(1500) {
		t.Errorf("duration = %v, want 1500 (ms)", raw["duration"])
	}
	if !strings.Contains(string(data), `"completedStages"`) || strings.Contains(string(data), "completed_stages") {
		t.Errorf("unexpected key spelling: %s", data)
	}
}

func TestManager_LoadStateErrors(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")

	if _, err := m.LoadState(ctx, "missing"); !errors.Is(err, kerrors.ErrRunNotFound) {
		t.Errorf("LoadState(missing) error = %v, want ErrRunNotFound", err)
	}

	_ = store.Save(ctx, "history/bad/state.json", []byte("{not json"))
	if _, err := m.LoadState(ctx, "bad"); !errors.Is(err, kerrors.ErrRunCorrupted) {
		t.Errorf("LoadState(bad) error = %v, want ErrRunCorrupted", err)
	}
}

func TestManager_Restore(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")
	_ = m.Record(ctx, "analyst", "A")
	_ = m.Record(ctx, "strategist", "### ASSIGN:BUILDER\nDo X")
	state := NewRunState("run-1", "p", nil, time.Now())
	state.MarkCompleted(stage.Analyzing)
	state.MarkCompleted(stage.Planning)
	state.Status = StatusFailed
	_ = m.SaveState(ctx, state)

	fresh := NewManager(store, "run-2", nil)
	got, err := fresh.Restore(ctx, "run-1")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if fresh.RunID() != "run-1" {
		t.Errorf("RunID = %q, want run-1", fresh.RunID())
	}
	if got.Status != StatusFailed || len(got.CompletedStages) != 2 {
		t.Errorf("state = %+v", got)
	}
	if out, _ := fresh.Output("strategist"); out != "### ASSIGN:BUILDER\nDo X" {
		t.Errorf("restored strategist output = %q", out)
	}
	if _, ok := fresh.Output("state"); ok {
		t.Error("state.json must not be restored as a role output")
	}
}

func TestManager_ResetCurrent(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, "run-1")
	_ = m.Record(ctx, "analyst", "A")

	if err := m.ResetCurrent(ctx); err != nil {
		t.Fatalf("ResetCurrent failed: %v", err)
	}
	if ok, _ := store.Exists(ctx, "current/analyst.md"); ok {
		t.Error("current output survived reset")
	}
	if ok, _ := store.Exists(ctx, "history/run-1/analyst.md"); !ok {
		t.Error("history output must survive reset")
	}
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		m := NewManager(store, id, nil)
		st := NewRunState(id, "p", nil, base.Add(time.Duration(i)*time.Hour))
		if id != "run-b" {
			st.Status = StatusComplete
		}
		if err := m.SaveState(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	_ = store.Save(ctx, "history/broken/state.json", []byte("nope"))

	runs, err := ListRuns(ctx, store, nil)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if want := []string{"run-c", "run-b", "run-a"}; !slices.Equal(ids, want) {
		t.Errorf("ListRuns ids = %v, want %v", ids, want)
	}

	latest, err := LatestResumable(ctx, store, nil)
	if err != nil || latest == nil || latest.RunID != "run-b" {
		t.Errorf("LatestResumable = %+v, %v; want run-b", latest, err)
	}
	if !RunExists(ctx, store, "run-a") || RunExists(ctx, store, "run-z") {
		t.Error("RunExists mismatch")
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 5, 7, 0, time.UTC)
	re := regexp.MustCompile(`^20261018-090507-[0-9a-f]{4}$`)
	seen := make(map[string]bool)
	for range 20 {
		id := NewRunID(now)
		if !re.MatchString(id) {
			t.Fatalf("NewRunID = %q, want YYYYMMDD-HHMMSS-xxxx", id)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Error("NewRunID should vary within the same second")
	}
}
