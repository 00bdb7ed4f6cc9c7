// Package plan extracts role assignments and parallel modules from the
// strategist's free-text plan.
//
// Two marker lines are recognized, each on its own line:
//
//	### ASSIGN:<LABEL>     task text for one role
//	### MODULE: <name>     one independently buildable module
//
// A block's body runs to the next marker of either kind, or to the end of
// the text. Labels resolve to canonical role keys through a fixed alias
// table; unknown labels and empty bodies are ignored, and the first
// assignment for a role wins.
package plan

import (
	"regexp"
	"strings"
)

var markerRegex = regexp.MustCompile(`(?mi)^[ \t]*###[ \t]*(ASSIGN|MODULE)[ \t]*:[ \t]*(.*?)[ \t]*$`)

var roleAliases = map[string]string{
	"ANALYST":     "analyst",
	"ANALYZER":    "analyst",
	"STRATEGIST":  "strategist",
	"PLANNER":     "strategist",
	"DESIGNER":    "designer",
	"UX":          "designer",
	"ARCHITECT":   "architect",
	"BUILDER":     "builder",
	"CODER":       "builder",
	"DEVELOPER":   "builder",
	"IMPLEMENTER": "builder",
	"ENGINEER":    "builder",
	"QA":          "qa",
	"QA_PLANNER":  "qa",
	"QA_LEAD":     "qa",
	"TESTER":      "tester",
	"GUARDIAN":    "tester",
	"REVIEWER":    "reviewer",
	"SECURITY":    "security",
	"AUDITOR":     "security",
	"SENTINEL":    "security",
	"DOCS":        "documenter",
	"DOCUMENTER":  "documenter",
	"SCRIBE":      "documenter",
	"WRITER":      "documenter",
	"DEVOPS":      "devops",
	"DEPLOYER":    "devops",
	"OPS":         "devops",
}

// ResolveRole maps a marker label to its canonical role key.
func ResolveRole(label string) (string, bool) {
	key := strings.ToUpper(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	role, ok := roleAliases[key]
	return role, ok
}

// Assignment is one role's task from the plan.
type Assignment struct {
	Role string
	Task string
}

// Module is one parallel work unit.
type Module struct {
	Name string
	Body string
}

// Plan is the structured view of a planning output.
type Plan struct {
	Raw         string
	Overview    string
	Assignments []Assignment
	Modules     []Module

	refreshed bool
}

type block struct {
	kind  string
	label string
	body  string
}

func scan(text string) (overview string, blocks []block) {
	locs := markerRegex.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return strings.TrimSpace(text), nil
	}
	overview = strings.TrimSpace(text[:locs[0][0]])
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		blocks = append(blocks, block{
			kind:  strings.ToUpper(text[loc[2]:loc[3]]),
			label: text[loc[4]:loc[5]],
			body:  strings.TrimSpace(text[loc[1]:end]),
		})
	}
	return overview, blocks
}

// Parse builds a Plan from planning text. It never fails; text without
// markers yields a plan with only an overview.
func Parse(text string) *Plan {
	overview, blocks := scan(text)
	p := &Plan{Raw: text, Overview: overview}
	seen := make(map[string]bool)
	for _, b := range blocks {
		switch b.kind {
		case "ASSIGN":
			role, ok := ResolveRole(b.label)
			if !ok || b.body == "" || seen[role] {
				continue
			}
			seen[role] = true
			p.Assignments = append(p.Assignments, Assignment{Role: role, Task: b.body})
		case "MODULE":
			p.Modules = append(p.Modules, parseModule(b))
		}
	}
	return p
}

func parseModule(b block) Module {
	name := strings.TrimSpace(b.label)
	if name == "" {
		name = firstLine(b.body)
	}
	return Module{Name: name, Body: b.body}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// Assignment returns the task assigned to role.
func (p *Plan) Assignment(role string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, a := range p.Assignments {
		if a.Role == role {
			return a.Task, true
		}
	}
	return "", false
}

// AssignmentKeys returns the assigned roles in plan order.
func (p *Plan) AssignmentKeys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		keys[i] = a.Role
	}
	return keys
}

// TaskFor returns role's assignment, or fallback when it has none, followed
// by the full plan as context. A nil plan returns fallback unchanged.
func (p *Plan) TaskFor(role, fallback string) string {
	if p == nil {
		return fallback
	}
	task, ok := p.Assignment(role)
	if !ok {
		task = fallback
	}
	if strings.TrimSpace(p.Raw) == "" {
		return task
	}
	return task + "\n\n## Full plan (for context)\n\n" + p.Raw
}

// RefreshModules replaces the module list with the modules found in text,
// typically the architecture output. Only the first call has an effect, and
// text without modules keeps the existing list. It reports whether the list
// changed.
func (p *Plan) RefreshModules(text string) bool {
	if p == nil || p.refreshed {
		return false
	}
	p.refreshed = true
	_, blocks := scan(text)
	var modules []Module
	for _, b := range blocks {
		if b.kind == "MODULE" {
			modules = append(modules, parseModule(b))
		}
	}
	if len(modules) == 0 {
		return false
	}
	p.Modules = modules
	return true
}
