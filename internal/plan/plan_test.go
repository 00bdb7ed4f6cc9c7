package plan

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse_Assignments(t *testing.T) {
	p := Parse("### ASSIGN:BUILDER\nDo X\n### ASSIGN:QA\nDo Y")
	want := []Assignment{{"builder", "Do X"}, {"qa", "Do Y"}}
	if !reflect.DeepEqual(p.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", p.Assignments, want)
	}
}

func TestParse_AliasesAndEdgeCases(t *testing.T) {
	text := `Overview of the approach.

### ASSIGN: coder
Implement the parser.
### ASSIGN:DEVELOPER
Second builder block is ignored.
### assign:Guardian
Write tests.
### ASSIGN:WIZARD
Unknown label.
### ASSIGN:DOCS

### ASSIGN:qa-planner
Plan QA.
### MODULE: auth
Login and sessions.
### ASSIGN:SENTINEL
Audit auth.`

	p := Parse(text)
	if p.Overview != "Overview of the approach." {
		t.Errorf("Overview = %q", p.Overview)
	}
	wantKeys := []string{"builder", "tester", "qa", "security"}
	if got := p.AssignmentKeys(); !reflect.DeepEqual(got, wantKeys) {
		t.Errorf("AssignmentKeys() = %v, want %v", got, wantKeys)
	}
	if task, _ := p.Assignment("builder"); task != "Implement the parser." {
		t.Errorf("builder task = %q (first occurrence must win)", task)
	}
	if _, ok := p.Assignment("documenter"); ok {
		t.Error("empty body must not create an assignment")
	}
	if task, _ := p.Assignment("qa"); task != "Plan QA." {
		t.Errorf("qa task = %q, body must stop at the next marker", task)
	}
	if len(p.Modules) != 1 || p.Modules[0].Name != "auth" || p.Modules[0].Body != "Login and sessions." {
		t.Errorf("Modules = %+v", p.Modules)
	}
	if task, _ := p.Assignment("security"); task != "Audit auth." {
		t.Errorf("unterminated final block should run to end, got %q", task)
	}
}

func TestParse_Idempotent(t *testing.T) {
	text := "intro\n### MODULE: api\nREST layer\n### MODULE: store\nPersistence\n### ASSIGN:BUILDER\nbuild"
	a, b := Parse(text), Parse(text)
	if !reflect.DeepEqual(a.Assignments, b.Assignments) || !reflect.DeepEqual(a.Modules, b.Modules) {
		t.Error("parsing the same text twice must give identical results")
	}
	if len(a.Modules) != 2 {
		t.Errorf("Modules = %d, want 2", len(a.Modules))
	}
}

func TestParse_NoMarkers(t *testing.T) {
	p := Parse("  just prose  ")
	if p.Overview != "just prose" || len(p.Assignments) != 0 || len(p.Modules) != 0 {
		t.Errorf("plan = %+v", p)
	}
}

func TestTaskFor(t *testing.T) {
	p := Parse("### ASSIGN:TESTER\nRun the suite")
	got := p.TaskFor("tester", "fallback")
	if !strings.HasPrefix(got, "Run the suite") || !strings.Contains(got, "## Full plan") {
		t.Errorf("TaskFor(tester) = %q", got)
	}
	got = p.TaskFor("devops", "Deploy it")
	if !strings.HasPrefix(got, "Deploy it") || !strings.Contains(got, "### ASSIGN:TESTER") {
		t.Errorf("TaskFor(devops) = %q", got)
	}

	var nilPlan *Plan
	if got := nilPlan.TaskFor("builder", "fb"); got != "fb" {
		t.Errorf("nil plan TaskFor = %q", got)
	}
	if nilPlan.AssignmentKeys() != nil {
		t.Error("nil plan has no keys")
	}
}

func TestRefreshModules_Once(t *testing.T) {
	p := Parse("### MODULE: a\nA\n")
	if p.RefreshModules("no modules here") {
		t.Error("refresh without modules should report no change")
	}
	if len(p.Modules) != 1 {
		t.Error("existing modules must be kept")
	}
	if p.RefreshModules("### MODULE: x\nX\n### MODULE: y\nY") {
		t.Error("only the first refresh may take effect")
	}

	q := Parse("plan")
	if !q.RefreshModules("### MODULE: x\nX\n### MODULE: y\nY") {
		t.Fatal("first refresh with modules should apply")
	}
	if len(q.Modules) != 2 || q.Modules[1].Name != "y" {
		t.Errorf("Modules = %+v", q.Modules)
	}
}

func TestResolveRole(t *testing.T) {
	tests := []struct{ label, want string }{
		{"builder", "builder"},
		{" QA PLANNER", "qa"},
		{"Auditor", "security"},
		{"scribe", "documenter"},
		{"deployer", "devops"},
	}
	for _, tc := range tests {
		if got, ok := ResolveRole(tc.label); !ok || got != tc.want {
			t.Errorf("ResolveRole(%q) = %q, %v; want %q", tc.label, got, ok, tc.want)
		}
	}
	if _, ok := ResolveRole("wizard"); ok {
		t.Error("unknown label should not resolve")
	}
}
