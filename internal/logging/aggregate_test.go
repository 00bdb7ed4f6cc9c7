package logging

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestReadLogs(t *testing.T) {
	t.Run("parses entries written by the logger", func(t *testing.T) {
		dir := t.TempDir()
		logger, err := New(dir, LevelDebug, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		run := logger.WithRun("20260301-140509-beef")
		run.WithStage("coding").WithRole("builder-1").Info("worker spawned", "pid", 4242)
		run.Debug("poll")
		run.WithRole("reviewer").Error("worker failed", "exit_code", 2)
		_ = logger.Close()

		entries, err := ReadLogs(dir)
		if err != nil {
			t.Fatalf("ReadLogs failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		first := entries[0]
		if first.Message != "worker spawned" || first.Level != "INFO" {
			t.Errorf("first entry = %+v", first)
		}
		if first.RunID != "20260301-140509-beef" || first.Stage != "coding" || first.Role != "builder-1" {
			t.Errorf("context fields = %q %q %q", first.RunID, first.Stage, first.Role)
		}
		if first.Attrs["pid"] != float64(4242) {
			t.Errorf("pid attr = %v", first.Attrs["pid"])
		}
		if _, ok := first.Attrs["run_id"]; ok {
			t.Error("run_id should not be duplicated into attrs")
		}
	})

	t.Run("missing log file", func(t *testing.T) {
		if _, err := ReadLogs(t.TempDir()); err == nil {
			t.Error("expected an error for a missing debug.log")
		}
	})
}

func TestParseLogs_SkipsBadLinesAndSorts(t *testing.T) {
	input := strings.Join([]string{
		`{"time":"2026-03-01T14:05:10Z","level":"INFO","msg":"second"}`,
		`not json`,
		``,
		`{"time":"2026-03-01T14:05:09Z","level":"WARN","msg":"first"}`,
	}, "\n")

	entries, err := ParseLogs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseLogs failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "first" || entries[1].Message != "second" {
		t.Errorf("entries not sorted: %q, %q", entries[0].Message, entries[1].Message)
	}
}

func sampleEntries() []LogEntry {
	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	return []LogEntry{
		{Timestamp: base, Level: LevelDebug, Message: "poll", RunID: "run-a"},
		{Timestamp: base.Add(time.Minute), Level: LevelInfo, Message: "worker spawned", RunID: "run-a", Stage: "coding", Role: "builder-2"},
		{Timestamp: base.Add(2 * time.Minute), Level: LevelWarn, Message: "process warning", RunID: "run-a", Role: "tester"},
		{Timestamp: base.Add(3 * time.Minute), Level: LevelError, Message: "worker failed", RunID: "run-b", Stage: "coding", Role: "builder"},
	}
}

func TestFilterLogs(t *testing.T) {
	base := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter LogFilter
		want   []string
	}{
		{name: "empty filter", filter: LogFilter{}, want: []string{"poll", "worker spawned", "process warning", "worker failed"}},
		{name: "minimum level", filter: LogFilter{Level: "warn"}, want: []string{"process warning", "worker failed"}},
		{name: "run id", filter: LogFilter{RunID: "run-b"}, want: []string{"worker failed"}},
		{name: "base role matches sub-workers", filter: LogFilter{Role: "builder"}, want: []string{"worker spawned", "worker failed"}},
		{name: "stage and run", filter: LogFilter{Stage: "coding", RunID: "run-a"}, want: []string{"worker spawned"}},
		{name: "since", filter: LogFilter{Since: base.Add(90 * time.Second)}, want: []string{"process warning", "worker failed"}},
		{name: "message", filter: LogFilter{MessageContains: "worker"}, want: []string{"worker spawned", "worker failed"}},
		{name: "no match", filter: LogFilter{Role: "devops"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, e := range FilterLogs(sampleEntries(), tt.filter) {
				got = append(got, e.Message)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("FilterLogs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteEntries(t *testing.T) {
	entries := sampleEntries()[1:2]
	entries[0].Attrs = map[string]any{"pid": 4242}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteEntries(&buf, entries, "text"); err != nil {
			t.Fatal(err)
		}
		want := `[2026-03-01 14:01:00.000] INFO  worker spawned (run=run-a, stage=coding, role=builder-2) {"pid":4242}` + "\n"
		if buf.String() != want {
			t.Errorf("text = %q, want %q", buf.String(), want)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteEntries(&buf, entries, "json"); err != nil {
			t.Fatal(err)
		}
		var decoded []LogEntry
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 1 || decoded[0].Role != "builder-2" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteEntries(&buf, entries, "CSV"); err != nil {
			t.Fatal(err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 2 || records[0][0] != "timestamp" || records[1][2] != "worker spawned" {
			t.Errorf("records = %v", records)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if err := WriteEntries(&bytes.Buffer{}, entries, "xml"); err == nil {
			t.Error("expected an error for an unsupported format")
		}
	})
}
