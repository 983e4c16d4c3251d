package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/chenapple/thesaurus-management/internal/agent"
	"github.com/chenapple/thesaurus-management/internal/tools"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

// RoleSpec describes one pipeline role
type RoleSpec struct {
	ID             Role     `yaml:"id"`
	Name           string   `yaml:"name"`
	Role           string   `yaml:"role"`
	Goal           string   `yaml:"goal"`
	Backstory      string   `yaml:"backstory"`
	ExpectedOutput string   `yaml:"expected_output"`
	Temperature    *float64 `yaml:"temperature"`
	MaxIterations  int      `yaml:"max_iterations"`
	Tools          []string `yaml:"tools"`
	Prompt         string   `yaml:"prompt"`

	tmpl *template.Template
}

// RoleCatalog holds the specs of all four roles
type RoleCatalog struct {
	specs map[Role]*RoleSpec
}

// DefaultRoles returns the embedded role catalogue
func DefaultRoles() (*RoleCatalog, error) {
	return ParseRoles(defaultRolesYAML)
}

// LoadRolesFile reads a role catalogue from a YAML file
func LoadRolesFile(path string) (*RoleCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return ParseRoles(data)
}

// ParseRoles decodes and validates a role catalogue.
// Every role must be present and its prompt must be a valid template.
func ParseRoles(data []byte) (*RoleCatalog, error) {
	var doc struct {
		Roles []*RoleSpec `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse roles: %w", err)
	}

	catalog := &RoleCatalog{specs: make(map[Role]*RoleSpec)}
	for _, spec := range doc.Roles {
		if spec == nil {
			continue
		}
		if strings.TrimSpace(spec.Prompt) == "" {
			return nil, fmt.Errorf("role %s has no prompt", spec.ID)
		}
		tmpl, err := template.New(string(spec.ID)).Option("missingkey=error").Parse(spec.Prompt)
		if err != nil {
			return nil, fmt.Errorf("role %s prompt: %w", spec.ID, err)
		}
		if spec.Temperature != nil && (*spec.Temperature < 0 || *spec.Temperature > 2) {
			return nil, fmt.Errorf("role %s temperature must be between 0 and 2", spec.ID)
		}
		seen := make(map[string]bool, len(spec.Tools))
		for _, name := range spec.Tools {
			if seen[name] {
				return nil, fmt.Errorf("role %s lists tool %s more than once", spec.ID, name)
			}
			seen[name] = true
		}
		spec.tmpl = tmpl
		catalog.specs[spec.ID] = spec
	}

	for _, role := range Roles {
		if _, ok := catalog.specs[role]; !ok {
			return nil, fmt.Errorf("role %s is not defined", role)
		}
	}
	return catalog, nil
}

// Spec returns the spec of a role
func (c *RoleCatalog) Spec(role Role) (*RoleSpec, bool) {
	spec, ok := c.specs[role]
	return spec, ok
}

// Names maps every role to its display name
func (c *RoleCatalog) Names() map[Role]string {
	names := make(map[Role]string, len(c.specs))
	for id, spec := range c.specs {
		names[id] = spec.Name
	}
	return names
}

// Render executes the prompt template of the role
func (s *RoleSpec) Render(data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", s.ID, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Definition builds the agent definition of the role.
// Only the tools named by the role are taken from available; the first tool of a name wins.
func (s *RoleSpec) Definition(model string, maxTokens int, available ...tools.Tool) agent.Definition {
	wanted := make(map[string]bool, len(s.Tools))
	for _, name := range s.Tools {
		wanted[name] = true
	}
	registry := tools.NewRegistry()
	for _, t := range available {
		if !wanted[t.Name()] {
			continue
		}
		// a later tool with a registered name is dropped
		_ = registry.Register(t)
	}
	return agent.Definition{
		Name:          string(s.ID),
		Role:          s.Role,
		Goal:          s.Goal,
		Backstory:     s.Backstory,
		Tools:         registry,
		Model:         model,
		MaxIterations: s.MaxIterations,
		Temperature:   s.Temperature,
		MaxTokens:     maxTokens,
	}
}
