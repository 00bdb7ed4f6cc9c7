package orchestrator

import (
	"strings"
	"time"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/instance/supervisor"
	"github.com/Iron-Ham/krenk/internal/orchestrator/director"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

// EventType identifies an engine event.
type EventType string

const (
	EventStage EventType = "stage"

	EventAgentSpawned EventType = "agent:spawned"
	EventAgentOutput  EventType = "agent:output"
	EventAgentDone    EventType = "agent:done"
	EventAgentError   EventType = "agent:error"

	EventSupervisorWarning EventType = "supervisor:warning"
	EventSupervisorKilled  EventType = "supervisor:killed"
	EventSupervisorStats   EventType = "supervisor:stats"

	EventRunComplete EventType = "run:complete"
	EventRunFailed   EventType = "run:failed"
)

// DirectorEvent returns the event type for a director intervention kind,
// e.g. "director:redo".
func DirectorEvent(kind director.InterventionKind) EventType {
	return EventType("director:" + string(kind))
}

// StageStatus qualifies an EventStage event.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageSkipped   StageStatus = "skipped"
	StageRejected  StageStatus = "rejected"
	StageRevision  StageStatus = "revision"
)

// Event is one observable engine occurrence.
type Event struct {
	Type        EventType
	Stage       stage.Stage
	StageStatus StageStatus
	Role        string
	PID         int
	Message     string
	Result      *agent.Result
	Stats       []supervisor.ProcessStats
	At          time.Time
}

// Lossy reports whether e may be dropped when the event buffer is full.
func (e Event) Lossy() bool {
	return e.Type == EventAgentOutput || e.Type == EventSupervisorStats
}

// IsDirector reports whether e is a director intervention.
func (e Event) IsDirector() bool {
	return strings.HasPrefix(string(e.Type), "director:")
}
