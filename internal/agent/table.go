package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Builtin returns the site's default persona table with no agent ids set.
func Builtin() *Directory {
	return NewDirectory(
		Identity{
			DisplayName:    "Ava",
			RoleLabel:      "Automation Concierge",
			ThemeColor:     "#6366F1",
			SecondaryColor: "#A5B4FC",
		},
		Identity{
			Route:          "/steakhouse",
			DisplayName:    "Marcus",
			RoleLabel:      "Steakhouse Host",
			ThemeColor:     "#B45309",
			SecondaryColor: "#FCD34D",
		},
		Identity{
			Route:          "/sushi",
			DisplayName:    "Yuki",
			RoleLabel:      "Sushi Bar Host",
			ThemeColor:     "#DC2626",
			SecondaryColor: "#FCA5A5",
		},
		Identity{
			Route:          "/trattoria",
			DisplayName:    "Giulia",
			RoleLabel:      "Trattoria Host",
			ThemeColor:     "#15803D",
			SecondaryColor: "#86EFAC",
		},
		Identity{
			Route:          "/taqueria",
			DisplayName:    "Diego",
			RoleLabel:      "Taqueria Host",
			ThemeColor:     "#EA580C",
			SecondaryColor: "#FDBA74",
		},
	)
}

// tableFile is the on-disk layout of an agents file.
type tableFile struct {
	Default Identity   `yaml:"default"`
	Agents  []Identity `yaml:"agents"`
}

// LoadFile reads a directory from a YAML file:
//
//	default:
//	  agentId: agent_hub
//	  displayName: Ava
//	agents:
//	  - route: /sushi
//	    agentId: agent_sushi
//	    displayName: Yuki
func LoadFile(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML agents table.
func Parse(raw []byte) (*Directory, error) {
	var tf tableFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	for i, e := range tf.Agents {
		if e.Route == "" {
			return nil, fmt.Errorf("parse agents file: entry %d has no route", i)
		}
	}
	return NewDirectory(tf.Default, tf.Agents...), nil
}
