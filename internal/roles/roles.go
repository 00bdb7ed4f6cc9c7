// Package roles holds the worker role catalog: capability profiles,
// guardrails, system prompts, and the phrases that indicate a worker has
// drifted into another role's job.
package roles

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var catalogYAML []byte

// Role describes one worker specialization.
type Role struct {
	Name         string   `yaml:"-"`
	Title        string   `yaml:"title"`
	MaxTurns     int      `yaml:"max_turns"`
	SystemPrompt string   `yaml:"system_prompt"`
	Allow        []string `yaml:"allow"`
	Deny         []string `yaml:"deny"`
	Guardrails   []string `yaml:"guardrails"`
	OffTrack     []string `yaml:"off_track"`
}

// GuardrailBlock renders the role's guardrails as a brief section.
func (r Role) GuardrailBlock() string {
	if len(r.Guardrails) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Guardrails (%s)\n", r.Title)
	for _, g := range r.Guardrails {
		sb.WriteString("- ")
		sb.WriteString(g)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Catalog is an immutable set of roles keyed by name.
type Catalog struct {
	roles map[string]Role
}

type catalogFile struct {
	Roles map[string]Role `yaml:"roles"`
}

// Parse decodes a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse role catalog: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("parse role catalog: no roles defined")
	}
	c := &Catalog{roles: make(map[string]Role, len(file.Roles))}
	for name, r := range file.Roles {
		r.Name = name
		for i, p := range r.OffTrack {
			r.OffTrack[i] = strings.ToLower(p)
		}
		c.roles[name] = r
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(catalogYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Get returns the role by name. Parallel sub-worker names ("builder-2")
// resolve to their base role.
func (c *Catalog) Get(name string) (Role, bool) {
	if r, ok := c.roles[name]; ok {
		return r, true
	}
	if i := strings.LastIndexByte(name, '-'); i > 0 {
		if r, ok := c.roles[name[:i]]; ok {
			r.Name = name
			return r, true
		}
	}
	return Role{}, false
}

// Names returns every role name, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
