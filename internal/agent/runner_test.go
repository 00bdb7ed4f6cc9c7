package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	kerrors "github.com/Iron-Ham/krenk/internal/errors"
	"github.com/Iron-Ham/krenk/internal/instance/process"
)

// writeScript creates an executable shell script standing in for the agent.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func drain(ch chan Update) []Update {
	var out []Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestCLIRunner_Success(t *testing.T) {
	script := writeScript(t, `echo 'starting up'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","subtype":"success","result":"all done","total_cost_usd":0.42}'
`)
	reg := process.NewRegistry(nil)
	r := NewCLIRunner(script, reg, nil)
	updates := make(chan Update, 16)

	res, err := r.Run(context.Background(), Task{Role: "builder", Prompt: "build", WorkDir: t.TempDir()}, updates)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Errorf("Success=%v ExitCode=%d", res.Success, res.ExitCode)
	}
	if res.Output != "all done" || res.Cost != 0.42 {
		t.Errorf("Output=%q Cost=%v", res.Output, res.Cost)
	}
	if reg.Len() != 0 {
		t.Error("pid should be removed from registry after exit")
	}

	got := drain(updates)
	if len(got) != 3 {
		t.Fatalf("updates = %d, want spawned/output/done: %+v", len(got), got)
	}
	if got[0].Kind != UpdateSpawned || got[0].PID <= 0 {
		t.Errorf("first update = %+v", got[0])
	}
	if got[1].Kind != UpdateOutput || got[1].Chunk != "working on it" {
		t.Errorf("second update = %+v", got[1])
	}
	if got[2].Kind != UpdateDone || got[2].Result == nil || got[2].Result.Output != "all done" {
		t.Errorf("third update = %+v", got[2])
	}
	if got[0].SpawnID == "" || got[0].SpawnID != got[2].SpawnID {
		t.Error("updates of one spawn must share a SpawnID")
	}
}

func TestCLIRunner_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo 'Error: something broke'
echo 'fatal detail' >&2
exit 3
`)
	r := NewCLIRunner(script, nil, nil)
	res, err := r.Run(context.Background(), Task{Role: "tester"}, nil)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.Success || res.ExitCode != 3 {
		t.Errorf("Success=%v ExitCode=%d", res.Success, res.ExitCode)
	}
	if res.Output != "Error: something broke" {
		t.Errorf("Output = %q, want raw stream fallback", res.Output)
	}
	if res.Stderr != "fatal detail\n" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestCLIRunner_SpawnFailure(t *testing.T) {
	r := NewCLIRunner(filepath.Join(t.TempDir(), "does-not-exist"), nil, nil)
	_, err := r.Run(context.Background(), Task{Role: "analyst"}, nil)
	if !kerrors.Is(err, kerrors.ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	var werr *kerrors.WorkerError
	if !kerrors.As(err, &werr) || werr.Role != "analyst" {
		t.Errorf("expected WorkerError for analyst, got %v", err)
	}
}

func TestCLIRunner_Cancel(t *testing.T) {
	script := writeScript(t, "sleep 30\n")
	reg := process.NewRegistry(nil)
	r := NewCLIRunner(script, reg, nil)
	r.Grace = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.Run(ctx, Task{Role: "builder"}, nil)
	if !kerrors.Is(err, kerrors.ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
	if reg.Len() != 0 {
		t.Error("registry should be empty after cancel")
	}
}
