// Package director is the review and redo engine. It prepares each worker's
// brief, watches live output for fatal or off-track signals, and judges
// finished output as accept, redo, or skip within a bounded redo budget.
//
// The director never kills a process; that is the supervisor's authority.
// It runs on the engine goroutine and is not safe for concurrent use.
package director

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/krenk/internal/agent"
	"github.com/Iron-Ham/krenk/internal/coordination"
	"github.com/Iron-Ham/krenk/internal/logging"
	"github.com/Iron-Ham/krenk/internal/orchestrator/retry"
	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/roles"
	"github.com/Iron-Ham/krenk/internal/util"
)

// RevisionMarker is the literal a review-stage worker emits to request a
// return to coding.
const RevisionMarker = "NEEDS_REVISION"

// Action is the outcome of a review.
type Action string

const (
	ActionAccept Action = "accept"
	ActionRedo   Action = "redo"
	ActionSkip   Action = "skip"
)

// Verdict is the director's judgement of one result. Verdicts are not
// persisted beyond the redo loop.
type Verdict struct {
	Action     Action
	Correction string
	Notes      string
	// Exhausted is set when a redo was warranted but the budget was spent.
	Exhausted bool
}

// InterventionKind identifies an Intervention.
type InterventionKind string

const (
	InterventionErrorDetected InterventionKind = "error_detected"
	InterventionWarn          InterventionKind = "warn"
	InterventionConflict      InterventionKind = "conflict"
	InterventionRedo          InterventionKind = "redo"
)

// Intervention is an observable director action.
type Intervention struct {
	Kind    InterventionKind
	Role    string
	Message string
}

// Policy holds the director's tunables.
type Policy struct {
	MaxRedos          int
	MinOutputChars    int
	OffTrackThreshold int
	PhasedThreshold   int
	PhasedRoles       []string
	// RedoOnFatalSignal turns a fatal pattern seen in live output into a
	// redo at review time. Off by default: such signals are often
	// recoverable and are only logged as blockers.
	RedoOnFatalSignal bool
	ConflictIgnore    []string
}

// DefaultPolicy returns the standard director settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxRedos:          retry.DefaultMaxRedos,
		MinOutputChars:    50,
		OffTrackThreshold: 2048,
		PhasedThreshold:   1500,
		PhasedRoles:       []string{"builder"},
		ConflictIgnore:    DefaultConflictIgnore,
	}
}

// Config holds the director's collaborators.
type Config struct {
	Memory     *coordination.Memory
	Catalog    *roles.Catalog
	Classifier Classifier
	Quality    QualityCheck
	Policy     Policy
	Logger     *logging.Logger
	// Notify receives every intervention as it happens.
	Notify func(Intervention)
}

// Director reviews worker output.
type Director struct {
	mem        *coordination.Memory
	catalog    *roles.Catalog
	classifier Classifier
	quality    QualityCheck
	policy     Policy
	logger     *logging.Logger
	notify     func(Intervention)
	redo       *retry.Manager
	ignore     []glob.Glob

	live           map[string]*strings.Builder
	offTrackWarned map[string]bool
	fatalSeen      map[string]string
	outputs        map[string]string
	learned        map[string]bool
	conflictsSeen  map[string]bool

	completed []string
	active    map[string]bool
	skipped   map[string]bool
}

// New creates a director. Memory is required.
func New(cfg Config) (*Director, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("director: Memory is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = roles.Default()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = NewPatternClassifier(cfg.Catalog)
	}
	if cfg.Quality == nil {
		cfg.Quality = DefaultQualityCheck
	}
	def := DefaultPolicy()
	p := cfg.Policy
	if p.MaxRedos < 0 {
		p.MaxRedos = def.MaxRedos
	}
	if p.MinOutputChars <= 0 {
		p.MinOutputChars = def.MinOutputChars
	}
	if p.OffTrackThreshold <= 0 {
		p.OffTrackThreshold = def.OffTrackThreshold
	}
	if p.PhasedThreshold <= 0 {
		p.PhasedThreshold = def.PhasedThreshold
	}
	if p.PhasedRoles == nil {
		p.PhasedRoles = def.PhasedRoles
	}
	if p.ConflictIgnore == nil {
		p.ConflictIgnore = def.ConflictIgnore
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.Notify == nil {
		cfg.Notify = func(Intervention) {}
	}

	return &Director{
		mem:            cfg.Memory,
		catalog:        cfg.Catalog,
		classifier:     cfg.Classifier,
		quality:        cfg.Quality,
		policy:         p,
		logger:         cfg.Logger.With("component", "director"),
		notify:         cfg.Notify,
		redo:           retry.NewManager(p.MaxRedos),
		ignore:         compileIgnore(p.ConflictIgnore),
		live:           make(map[string]*strings.Builder),
		offTrackWarned: make(map[string]bool),
		fatalSeen:      make(map[string]string),
		outputs:        make(map[string]string),
		learned:        make(map[string]bool),
		conflictsSeen:  make(map[string]bool),
		active:         make(map[string]bool),
		skipped:        make(map[string]bool),
	}, nil
}

// Policy returns the effective policy.
func (d *Director) Policy() Policy { return d.policy }

// RedoCount returns the redos issued for role.
func (d *Director) RedoCount(role string) int { return d.redo.Count(role) }

// TotalRedos returns the redos issued across all roles.
func (d *Director) TotalRedos() int { return d.redo.Total() }

// ResetRole restores role's redo budget and live state. The engine calls it
// when the revision back-edge re-enters a stage.
func (d *Director) ResetRole(role string) {
	d.redo.Reset(role)
	delete(d.live, role)
	delete(d.offTrackWarned, role)
	delete(d.fatalSeen, role)
	d.completed = slices.DeleteFunc(d.completed, func(r string) bool { return r == role })
}

// PrepareBrief assembles the prompt for role: shared context, the role's
// progress file, its guardrails, then basePrompt. It marks the role active
// and logs a "briefed" decision. The progress file is created on the first
// brief and left alone after that.
func (d *Director) PrepareBrief(role, basePrompt string) string {
	d.live[role] = &strings.Builder{}
	delete(d.offTrackWarned, role)
	delete(d.fatalSeen, role)
	d.active[role] = true
	delete(d.skipped, role)

	if _, err := d.mem.Init(role, "- status: active\n"); err != nil {
		d.logger.Warn("progress file init failed", "role", role, "error", err)
	}
	d.refreshStatus()
	d.logDecision(role, "briefed")

	var sb strings.Builder
	sb.WriteString(d.mem.FullContext())
	fmt.Fprintf(&sb, "## Progress\nAppend short progress notes to %s as you work. Other workers read it.\n\n", d.mem.RoleFile(role))
	if r, ok := d.catalog.Get(role); ok {
		if block := r.GuardrailBlock(); block != "" {
			sb.WriteString(block)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("## Task\n")
	sb.WriteString(basePrompt)
	return sb.String()
}

// MonitorOutput inspects one live output chunk. Fatal signals are logged as
// blockers and reported as error_detected; once the live buffer passes the
// off-track threshold, off-track phrases produce a corrective directive and
// a warn intervention. It returns the most severe intervention, or nil.
func (d *Director) MonitorOutput(role, chunk string) *Intervention {
	buf, ok := d.live[role]
	if !ok {
		buf = &strings.Builder{}
		d.live[role] = buf
	}
	buf.WriteString(chunk)

	var result *Intervention
	for _, sig := range d.classifier.Classify(role, chunk) {
		switch sig.Kind {
		case SignalFatal:
			if _, seen := d.fatalSeen[role]; seen {
				continue
			}
			d.fatalSeen[role] = sig.Pattern
			if err := d.mem.AddBlocker(role, "fatal signal detected: "+sig.Pattern); err != nil {
				d.logger.Warn("record blocker failed", "error", err)
			}
			iv := d.intervene(InterventionErrorDetected, role, fmt.Sprintf("%s detected in output", sig.Pattern))
			if result == nil || result.Kind != InterventionErrorDetected {
				result = iv
			}
		case SignalOffTrack:
			if buf.Len() <= d.policy.OffTrackThreshold || d.offTrackWarned[role] {
				continue
			}
			d.offTrackWarned[role] = true
			directive := fmt.Sprintf("%s: stay within your role; %q belongs to another role.", role, sig.Pattern)
			if err := d.mem.AddDirective(directive); err != nil {
				d.logger.Warn("record directive failed", "error", err)
			}
			iv := d.intervene(InterventionWarn, role, fmt.Sprintf("off-track: %q", sig.Pattern))
			if result == nil {
				result = iv
			}
		}
	}
	return result
}

// ReviewOutput judges a finished result. Checks run in priority order:
// near-empty success, near-empty failure, failure with output, role quality,
// then accept. Every would-be redo past the budget becomes an accept.
func (d *Director) ReviewOutput(role string, res agent.Result) Verdict {
	return d.review(role, res, true)
}

// Skip records that role was deliberately not run.
func (d *Director) Skip(role, reason string) Verdict {
	delete(d.active, role)
	d.skipped[role] = true
	d.refreshStatus()
	d.logDecision(role, "skipped: "+reason)
	return Verdict{Action: ActionSkip, Notes: reason}
}

// RestoreCompleted marks roles completed without review, with their stored
// outputs, when a run is resumed.
func (d *Director) RestoreCompleted(outputs map[string]string, order []string) {
	for _, role := range order {
		out, ok := outputs[role]
		if !ok {
			continue
		}
		d.outputs[role] = out
		if !slices.Contains(d.completed, role) {
			d.completed = append(d.completed, role)
		}
	}
	d.refreshStatus()
}

func (d *Director) review(role string, res agent.Result, final bool) Verdict {
	out := strings.TrimSpace(res.Output)
	logger := d.logger.WithRole(role)

	d.recordLearnings(role, out)
	d.checkConflicts(role, out)
	d.outputs[role] = res.Output

	minimal := len(out) < d.policy.MinOutputChars
	exhausted := false

	switch {
	case minimal && res.Success:
		return d.accept(role, "minimal output", false, final)

	case minimal:
		if d.redo.CanRedo(role) {
			return d.redoVerdict(role, "no output produced",
				"The previous attempt failed without producing output. Try again and complete the task.")
		}
		return d.accept(role, "accepting failure", true, final)

	case !res.Success:
		if d.redo.CanRedo(role) {
			details := errorLines(out)
			if details == "" {
				details = util.Tail(out, 600)
			}
			if res.Stderr != "" {
				details += "\n\nstderr:\n" + util.Tail(res.Stderr, 400)
			}
			return d.redoVerdict(role, fmt.Sprintf("exit code %d", res.ExitCode),
				"The previous attempt failed. Relevant output:\n"+details+"\n\nFix these problems and complete the task.")
		}
		exhausted = true
	}

	if ok, note := d.quality(role, out); !ok {
		if d.redo.CanRedo(role) {
			return d.redoVerdict(role, "quality check failed", note)
		}
		logger.Warn("quality check failed with budget spent", "note", note)
		exhausted = true
	}

	if pattern, seen := d.fatalSeen[role]; seen && d.policy.RedoOnFatalSignal {
		if d.redo.CanRedo(role) {
			return d.redoVerdict(role, "fatal signal: "+pattern,
				fmt.Sprintf("Your output showed %s. Resolve it and complete the task.", pattern))
		}
		exhausted = true
	}

	if exhausted {
		return d.accept(role, "accepting failure: redo budget spent", true, final)
	}
	return d.accept(role, "accepted", false, final)
}

func (d *Director) accept(role, notes string, exhausted, final bool) Verdict {
	if final {
		d.redo.MarkAccepted(role, exhausted)
		d.markCompleted(role)
	}
	d.logDecision(role, notes)
	d.logger.Info("output accepted", "role", role, "notes", notes, "exhausted", exhausted)
	return Verdict{Action: ActionAccept, Notes: notes, Exhausted: exhausted}
}

func (d *Director) redoVerdict(role, reason, correction string) Verdict {
	n := d.redo.RecordRedo(role, reason)
	d.live[role] = &strings.Builder{}
	delete(d.offTrackWarned, role)
	delete(d.fatalSeen, role)

	msg := fmt.Sprintf("redo %d/%d: %s", n, d.redo.MaxRedos(), reason)
	d.logDecision(role, msg)
	d.intervene(InterventionRedo, role, msg)
	return Verdict{
		Action:     ActionRedo,
		Correction: "## Correction from review\nYour previous attempt was not accepted (" + reason + ").\n" + correction,
		Notes:      reason,
	}
}

func (d *Director) markCompleted(role string) {
	delete(d.active, role)
	delete(d.skipped, role)
	if !slices.Contains(d.completed, role) {
		d.completed = append(d.completed, role)
	}
	d.refreshStatus()
}

// Completed returns completed roles in completion order.
func (d *Director) Completed() []string { return slices.Clone(d.completed) }

// StatusBoard renders the completed, active, skipped and idle roles.
func (d *Director) StatusBoard() string {
	busy := make(map[string]bool)
	for _, r := range d.completed {
		busy[stage.BaseRole(r)] = true
	}
	active := make([]string, 0, len(d.active))
	for r := range d.active {
		active = append(active, r)
		busy[stage.BaseRole(r)] = true
	}
	slices.Sort(active)
	skipped := make([]string, 0, len(d.skipped))
	for r := range d.skipped {
		skipped = append(skipped, r)
		busy[stage.BaseRole(r)] = true
	}
	slices.Sort(skipped)
	var idle []string
	for _, r := range stage.Roles() {
		if !busy[r] {
			idle = append(idle, r)
		}
	}

	list := func(xs []string) string {
		if len(xs) == 0 {
			return "-"
		}
		return strings.Join(xs, ", ")
	}
	return fmt.Sprintf("Completed: %s\nActive: %s\nSkipped: %s\nIdle: %s\n",
		list(d.completed), list(active), list(skipped), list(idle))
}

func (d *Director) refreshStatus() {
	if err := d.mem.SetStatus(d.StatusBoard()); err != nil {
		d.logger.Warn("status update failed", "error", err)
	}
}

func (d *Director) recordLearnings(role, out string) {
	for _, fact := range d.extractLearnings(role, out) {
		if err := d.mem.AddLearning(fact); err != nil {
			d.logger.Warn("record learning failed", "error", err)
		}
	}
}

func (d *Director) checkConflicts(role, out string) {
	for _, c := range d.findConflicts(role, out) {
		msg := fmt.Sprintf("file conflict: %s claimed by %s", c.Path, strings.Join(c.Roles, " and "))
		if err := d.mem.AddBlocker(role, msg); err != nil {
			d.logger.Warn("record blocker failed", "error", err)
		}
		d.intervene(InterventionConflict, role, msg)
	}
}

func (d *Director) logDecision(role, decision string) {
	if err := d.mem.LogDecision(role, decision); err != nil {
		d.logger.Warn("record decision failed", "error", err)
	}
}

func (d *Director) intervene(kind InterventionKind, role, msg string) *Intervention {
	iv := &Intervention{Kind: kind, Role: role, Message: msg}
	d.logger.Info("intervention", "kind", string(kind), "role", role, "message", msg)
	d.notify(*iv)
	return iv
}

var errorLineRe = regexp.MustCompile(`(?i)\b(error|exception|failed|failure|fatal|panic|traceback|cannot|unable to)\b`)

// errorLines returns up to ten lines of out that look like errors.
func errorLines(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if errorLineRe.MatchString(line) {
			lines = append(lines, strings.TrimSpace(line))
			if len(lines) == 10 {
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}
