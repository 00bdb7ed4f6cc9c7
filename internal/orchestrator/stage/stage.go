// Package stage defines the fixed krenk pipeline: the ordered stages, the
// role that owns each one, and the transition function between them.
//
// The pipeline is linear except for a single revision back-edge: a review
// stage (reviewing, securing) that asks for revision transitions back to
// coding. The back-edge is one explicit exception in the transition table,
// bounded by the engine's revision counter.
package stage

import (
	"slices"
	"strings"
)

// Stage identifies one step of the pipeline.
type Stage string

const (
	Analyzing    Stage = "analyzing"
	Planning     Stage = "planning"
	Designing    Stage = "designing"
	Architecting Stage = "architecting"
	Coding       Stage = "coding"
	QAPlanning   Stage = "qa-planning"
	Testing      Stage = "testing"
	Reviewing    Stage = "reviewing"
	Securing     Stage = "securing"
	Documenting  Stage = "documenting"
	Deploying    Stage = "deploying"
	Complete     Stage = "complete"
)

// String returns the stage identifier.
func (s Stage) String() string { return string(s) }

// IsTerminal reports whether s is the terminal stage.
func (s Stage) IsTerminal() bool { return s == Complete }

// Info is the static description of a stage.
type Info struct {
	ID          Stage
	Role        string
	Label       string
	Description string
}

var pipeline = []Info{
	{Analyzing, "analyst", "Analyzing", "Analyze the request, constraints, and existing code"},
	{Planning, "strategist", "Planning", "Break the work into role assignments and parallel modules"},
	{Designing, "designer", "Designing", "Design the user-facing surface and interactions"},
	{Architecting, "architect", "Architecting", "Define file structure, components, and module boundaries"},
	{Coding, "builder", "Coding", "Implement the plan"},
	{QAPlanning, "qa", "QA Planning", "Write the test plan and acceptance criteria"},
	{Testing, "tester", "Testing", "Write and run tests, report pass/fail"},
	{Reviewing, "reviewer", "Reviewing", "Review the implementation for correctness and quality"},
	{Securing, "security", "Securing", "Audit the implementation for security issues"},
	{Documenting, "documenter", "Documenting", "Write user and developer documentation"},
	{Deploying, "devops", "Deploying", "Prepare build, packaging, and deployment configuration"},
	{Complete, "", "Complete", "All stages finished"},
}

// revisionEdges is the only non-linear entry in the transition table.
var revisionEdges = map[Stage]Stage{
	Reviewing: Coding,
	Securing:  Coding,
}

// All returns every stage in pipeline order, including Complete.
func All() []Info {
	return slices.Clone(pipeline)
}

// Workable returns every stage that spawns a worker (all but Complete).
func Workable() []Info {
	return slices.Clone(pipeline[:len(pipeline)-1])
}

// Lookup returns the Info for id.
func Lookup(id Stage) (Info, bool) {
	if i := Index(id); i >= 0 {
		return pipeline[i], true
	}
	return Info{}, false
}

// Index returns the pipeline position of id, or -1 when unknown.
func Index(id Stage) int {
	return slices.IndexFunc(pipeline, func(info Info) bool { return info.ID == id })
}

// First returns the first stage of the pipeline.
func First() Stage { return pipeline[0].ID }

// IsReview reports whether s may request a revision.
func IsReview(s Stage) bool {
	_, ok := revisionEdges[s]
	return ok
}

// Next returns the stage after current. A review stage with needsRevision
// set returns its revision target; otherwise the linear successor is
// returned. Complete and unknown stages return Complete.
func Next(current Stage, needsRevision bool) Stage {
	if needsRevision {
		if target, ok := revisionEdges[current]; ok {
			return target
		}
	}
	i := Index(current)
	if i < 0 || i >= len(pipeline)-1 {
		return Complete
	}
	return pipeline[i+1].ID
}

// ShouldSkip reports whether info is named by any token in skip. A stage can
// be named by its id, its owning role, or its lowercase label; the three
// forms are equivalent.
func ShouldSkip(info Info, skip []string) bool {
	for _, raw := range skip {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			continue
		}
		if token == string(info.ID) || token == info.Role || token == strings.ToLower(info.Label) {
			return true
		}
	}
	return false
}

// ForRole returns the stage owned by role. Parallel sub-worker suffixes
// ("builder-2") are ignored.
func ForRole(role string) (Info, bool) {
	role = BaseRole(role)
	for _, info := range pipeline {
		if info.Role != "" && info.Role == role {
			return info, true
		}
	}
	return Info{}, false
}

// Roles returns the canonical role order.
func Roles() []string {
	roles := make([]string, 0, len(pipeline)-1)
	for _, info := range pipeline {
		if info.Role != "" {
			roles = append(roles, info.Role)
		}
	}
	return roles
}

// BaseRole strips a numeric "-N" suffix used to name parallel sub-workers.
func BaseRole(role string) string {
	i := strings.LastIndexByte(role, '-')
	if i <= 0 || i == len(role)-1 {
		return role
	}
	for _, r := range role[i+1:] {
		if r < '0' || r > '9' {
			return role
		}
	}
	return role[:i]
}
