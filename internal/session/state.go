package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// RunState is the resumability checkpoint written after every stage.
type RunState struct {
	RunID           string        `json:"runId"`
	Prompt          string        `json:"prompt"`
	CompletedStages []stage.Stage `json:"completedStages"`
	SkipStages      []string      `json:"skipStages"`
	Status          Status        `json:"status"`
	StageCount      int           `json:"stageCount"`
	DurationMS      int64         `json:"duration"` // milliseconds
	PlanAssignments []string      `json:"planAssignments"`
	Revisions       int           `json:"revisions"`
	StartedAt       time.Time     `json:"startedAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// NewRunState starts a running state for prompt.
func NewRunState(runID, prompt string, skip []string, now time.Time) *RunState {
	return &RunState{
		RunID:           runID,
		Prompt:          prompt,
		CompletedStages: []stage.Stage{},
		SkipStages:      slices.Clone(skip),
		Status:          StatusRunning,
		PlanAssignments: []string{},
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// HasCompleted reports whether s is recorded as completed.
func (r *RunState) HasCompleted(s stage.Stage) bool {
	return slices.Contains(r.CompletedStages, s)
}

// MarkCompleted appends s unless already present and updates StageCount.
func (r *RunState) MarkCompleted(s stage.Stage) {
	if !r.HasCompleted(s) {
		r.CompletedStages = append(r.CompletedStages, s)
	}
	r.StageCount = len(r.CompletedStages)
}

// Duration returns the recorded run duration.
func (r *RunState) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// SetDuration records d.
func (r *RunState) SetDuration(d time.Duration) {
	r.DurationMS = d.Milliseconds()
}

// Finished reports whether the run reached a terminal status.
func (r *RunState) Finished() bool {
	return r.Status == StatusComplete
}

// NewRunID returns a time-ordered run id of the form
// YYYYMMDD-HHMMSS-xxxx.
func NewRunID(now time.Time) string {
	b := make([]byte, 2)
	suffix := ""
	if _, err := rand.Read(b); err != nil {
		suffix = fmt.Sprintf("%04x", (os.Getpid()^int(now.UnixNano()))&0xffff)
	} else {
		suffix = hex.EncodeToString(b)
	}
	return now.Format("20060102-150405") + "-" + suffix
}
