package coordination

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/krenk/internal/logging"
)

// Base section names.
const (
	SectionDirectives = "directives"
	SectionStatus     = "status"
	SectionLearnings  = "learnings"
	SectionBlockers   = "blockers"
	SectionDecisions  = "decisions"
)

// BaseSections lists the sections that always exist, in brief order.
var BaseSections = []string{SectionDirectives, SectionStatus, SectionLearnings, SectionBlockers, SectionDecisions}

var sectionTitles = map[string]string{
	SectionDirectives: "Directives",
	SectionStatus:     "Status",
	SectionLearnings:  "Learnings",
	SectionBlockers:   "Blockers",
	SectionDecisions:  "Decisions",
}

// IsBaseSection reports whether name is one of BaseSections.
func IsBaseSection(name string) bool {
	return slices.Contains(BaseSections, name)
}

// Memory is the authoritative shared memory store.
type Memory struct {
	dir      string
	sections map[string]string
	now      func() time.Time
	logger   *logging.Logger
}

// NewMemory creates the store rooted at dir and exports the empty base
// sections.
func NewMemory(dir string, opts ...Option) (*Memory, error) {
	cfg := &memoryConfig{now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	m := &Memory{
		dir:      dir,
		sections: make(map[string]string),
		now:      cfg.now,
		logger:   cfg.logger.With("component", "memory"),
	}
	for _, name := range BaseSections {
		if err := m.export(name); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Dir returns the mirror directory.
func (m *Memory) Dir() string { return m.dir }

// Get returns a section's content; unknown sections are empty.
func (m *Memory) Get(section string) string {
	return m.sections[section]
}

// Sections returns every known section name: base sections first, then
// role sections sorted.
func (m *Memory) Sections() []string {
	out := slices.Clone(BaseSections)
	var roles []string
	for name := range m.sections {
		if !IsBaseSection(name) {
			roles = append(roles, name)
		}
	}
	slices.Sort(roles)
	return append(out, roles...)
}

// Overwrite replaces a section's content.
func (m *Memory) Overwrite(section, text string) error {
	if err := validSection(section); err != nil {
		return err
	}
	m.sections[section] = text
	return m.export(section)
}

// Init writes text to a section only when the section is empty and no
// mirror file exists yet. It reports whether it wrote.
func (m *Memory) Init(section, text string) (bool, error) {
	if err := validSection(section); err != nil {
		return false, err
	}
	if m.sections[section] != "" {
		return false, nil
	}
	if _, err := os.Stat(m.path(section)); err == nil {
		return false, nil
	}
	m.sections[section] = text
	return true, m.export(section)
}

// Append adds a timestamped bullet to a section.
func (m *Memory) Append(section, line string) error {
	if err := validSection(section); err != nil {
		return err
	}
	entry := fmt.Sprintf("- [%s] %s\n", m.now().Format("15:04:05"), strings.TrimSpace(line))
	m.sections[section] += entry
	return m.export(section)
}

// AddDirective appends a directive every worker must follow.
func (m *Memory) AddDirective(text string) error {
	return m.Append(SectionDirectives, text)
}

// AddLearning appends a learning.
func (m *Memory) AddLearning(text string) error {
	return m.Append(SectionLearnings, text)
}

// AddBlocker records a blocker raised by role.
func (m *Memory) AddBlocker(role, text string) error {
	return m.Append(SectionBlockers, fmt.Sprintf("(%s) %s", role, text))
}

// LogDecision records a director decision about role.
func (m *Memory) LogDecision(role, decision string) error {
	return m.Append(SectionDecisions, fmt.Sprintf("%s: %s", role, decision))
}

// SetStatus replaces the status board.
func (m *Memory) SetStatus(text string) error {
	return m.Overwrite(SectionStatus, text)
}

// RoleFile returns the path a role writes its progress to.
func (m *Memory) RoleFile(role string) string {
	return filepath.Join(m.dir, role+".md")
}

// FullContext renders directives, status, and every non-empty learnings,
// blockers, and decisions section for inclusion in a worker brief.
func (m *Memory) FullContext() string {
	var sb strings.Builder
	sb.WriteString("# Shared Memory\n\n")
	for _, name := range BaseSections {
		content := strings.TrimSpace(m.sections[name])
		always := name == SectionDirectives || name == SectionStatus
		if content == "" && !always {
			continue
		}
		if content == "" {
			content = "(none)"
		}
		fmt.Fprintf(&sb, "## %s\n%s\n\n", sectionTitles[name], content)
	}
	return sb.String()
}

// Reset clears every section and removes the mirrored files, then exports
// empty base sections.
func (m *Memory) Reset() error {
	files, err := filepath.Glob(filepath.Join(m.dir, "*.md"))
	if err != nil {
		return fmt.Errorf("reset memory: %w", err)
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset memory: %w", err)
		}
	}
	clear(m.sections)
	for _, name := range BaseSections {
		if err := m.export(name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) path(section string) string {
	return filepath.Join(m.dir, section+".md")
}

func (m *Memory) export(section string) error {
	title := sectionTitles[section]
	if title == "" {
		title = section + " progress"
	}
	data := fmt.Sprintf("# %s\n\n%s", title, m.sections[section])
	if err := atomicWrite(m.path(section), []byte(data)); err != nil {
		m.logger.Warn("memory export failed", "section", section, "error", err)
		return fmt.Errorf("export section %s: %w", section, err)
	}
	return nil
}

func validSection(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid section name %q", name)
	}
	return nil
}

// atomicWrite writes data to a temp file in the same directory and renames
// it over path.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
