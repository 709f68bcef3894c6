package rbac

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"commandbridge/pkg/domain"
)

// Permission is the resolved right a role has on an action.
type Permission string

const (
	PermissionRun     Permission = "run"
	PermissionRequest Permission = "request"
	PermissionLocked  Permission = "locked"
)

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

func (r Risk) valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

type Category string

const (
	CategoryFrontend       Category = "Frontend"
	CategoryBackend        Category = "Backend"
	CategoryInfrastructure Category = "Infrastructure"
	CategorySecurity       Category = "Security"
)

func (c Category) valid() bool {
	switch c {
	case CategoryFrontend, CategoryBackend, CategoryInfrastructure, CategorySecurity:
		return true
	}
	return false
}

// Grant is one role's entry on an action: either the wildcard "*" or a set
// of flags.
type Grant struct {
	Wildcard bool
	Run      bool
	Request  bool
	Approve  bool
}

// UnmarshalYAML accepts "*" or a mapping with only run/request/approve keys.
func (g *Grant) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "*" {
			return fmt.Errorf("line %d: grant must be \"*\" or a mapping, got %q", node.Line, node.Value)
		}
		*g = Grant{Wildcard: true}
		return nil
	case yaml.MappingNode:
		var out Grant
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			var flag bool
			if err := val.Decode(&flag); err != nil {
				return fmt.Errorf("line %d: grant flag %q must be boolean", val.Line, key.Value)
			}
			switch key.Value {
			case "run":
				out.Run = flag
			case "request":
				out.Request = flag
			case "approve":
				out.Approve = flag
			default:
				return fmt.Errorf("line %d: unknown grant flag %q", key.Line, key.Value)
			}
		}
		*g = out
		return nil
	default:
		return fmt.Errorf("line %d: grant must be \"*\" or a mapping", node.Line)
	}
}

// ActionDefinition is one catalogue entry.
type ActionDefinition struct {
	ID          string                `yaml:"id"`
	Name        string                `yaml:"name"`
	Description string                `yaml:"description"`
	Risk        Risk                  `yaml:"risk"`
	Target      string                `yaml:"target"`
	Runbook     string                `yaml:"runbook"`
	Categories  []Category            `yaml:"categories"`
	Permissions map[domain.Role]Grant `yaml:"permissions"`
}

type Role struct {
	Name        domain.Role `yaml:"-"`
	Description string      `yaml:"description"`
	Level       int         `yaml:"level"`
}

// ActionView is the per-caller projection of an action, used by the browser
// only to hide affordances.
type ActionView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Risk        Risk       `json:"risk"`
	Target      string     `json:"target"`
	Runbook     string     `json:"runbook"`
	Categories  []Category `json:"categories"`
	Permission  Permission `json:"permission"`
}
