package rbac

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"commandbridge/pkg/domain"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

var actionIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]+$`)

// Catalogue is the immutable action and role table. Safe for concurrent use
// because nothing mutates it after Load.
type Catalogue struct {
	roles   map[domain.Role]Role
	actions map[string]ActionDefinition
	order   []string
}

type document struct {
	Roles   map[domain.Role]Role `yaml:"roles"`
	Actions []ActionDefinition   `yaml:"actions"`
}

// Default returns the catalogue compiled into the binary.
func Default() (*Catalogue, error) {
	return Load(defaultCatalogue)
}

// MustDefault is Default for tests and static initialisation.
func MustDefault() *Catalogue {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadFile reads a catalogue from path, or the embedded one when path is empty.
func LoadFile(path string) (*Catalogue, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return Load(data)
}

// Load parses and validates a catalogue document.
func Load(data []byte) (*Catalogue, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}

	c := &Catalogue{
		roles:   make(map[domain.Role]Role, len(doc.Roles)),
		actions: make(map[string]ActionDefinition, len(doc.Actions)),
	}
	for name, role := range doc.Roles {
		role.Name = name
		c.roles[name] = role
	}
	for _, a := range doc.Actions {
		if _, dup := c.actions[a.ID]; dup {
			return nil, fmt.Errorf("catalogue: duplicate action %q", a.ID)
		}
		c.actions[a.ID] = a
		c.order = append(c.order, a.ID)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalogue) validate() error {
	var errs []error

	if len(c.roles) != 3 {
		errs = append(errs, fmt.Errorf("catalogue: expected 3 roles, got %d", len(c.roles)))
	}
	levels := map[int]domain.Role{}
	for name, r := range c.roles {
		if r.Level < 1 || r.Level > 3 {
			errs = append(errs, fmt.Errorf("catalogue: role %q level %d out of range", name, r.Level))
		}
		if other, dup := levels[r.Level]; dup {
			errs = append(errs, fmt.Errorf("catalogue: roles %q and %q share level %d", other, name, r.Level))
		}
		levels[r.Level] = name
	}
	if len(c.actions) == 0 {
		errs = append(errs, errors.New("catalogue: no actions"))
	}

	for _, id := range c.order {
		a := c.actions[id]
		if !actionIDPattern.MatchString(a.ID) {
			errs = append(errs, fmt.Errorf("catalogue: action id %q must be lowercase-hyphenated", a.ID))
		}
		if a.Name == "" || a.Description == "" {
			errs = append(errs, fmt.Errorf("catalogue: action %q needs name and description", a.ID))
		}
		if !a.Risk.valid() {
			errs = append(errs, fmt.Errorf("catalogue: action %q has invalid risk %q", a.ID, a.Risk))
		}
		for _, cat := range a.Categories {
			if !cat.valid() {
				errs = append(errs, fmt.Errorf("catalogue: action %q has invalid category %q", a.ID, cat))
			}
		}
		for role := range a.Permissions {
			if _, ok := c.roles[role]; !ok {
				errs = append(errs, fmt.Errorf("catalogue: action %q grants unknown role %q", a.ID, role))
			}
		}
		for role := range c.roles {
			if _, ok := a.Permissions[role]; !ok {
				errs = append(errs, fmt.Errorf("catalogue: action %q has no entry for role %q", a.ID, role))
			}
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the action definition for id.
func (c *Catalogue) Lookup(actionID string) (ActionDefinition, bool) {
	a, ok := c.actions[actionID]
	return a, ok
}

// Roles returns every role ordered by level.
func (c *Catalogue) Roles() []Role {
	out := make([]Role, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// ValidRole reports whether name is a catalogue role.
func (c *Catalogue) ValidRole(name domain.Role) bool {
	_, ok := c.roles[name]
	return ok
}

// Level returns the role's level, or 0 for unknown roles.
func (c *Catalogue) Level(name domain.Role) int {
	return c.roles[name].Level
}

// ActionIDs returns action ids in catalogue order.
func (c *Catalogue) ActionIDs() []string {
	return append([]string(nil), c.order...)
}
