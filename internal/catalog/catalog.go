package catalog

import (
	"embed"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"gopkg.in/yaml.v3"
)

//go:embed actions.yaml
var configFiles embed.FS

// Action is one entry in the catalog: an operation name, its description for
// the model, and a JSON-schema parameter definition.
type Action struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

type catalogFile struct {
	Actions []Action `yaml:"actions"`
}

// Catalog holds the fixed set of actions the model may select. Loaded once at
// startup from the embedded YAML definition; read-only afterwards.
type Catalog struct {
	actions []Action
	byName  map[string]Action
}

// Load parses the embedded action definitions.
func Load() (*Catalog, error) {
	data, err := configFiles.ReadFile("actions.yaml")
	if err != nil {
		return nil, fmt.Errorf("read actions.yaml: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal actions.yaml: %w", err)
	}
	if len(file.Actions) == 0 {
		return nil, fmt.Errorf("actions.yaml defines no actions")
	}

	byName := make(map[string]Action, len(file.Actions))
	for _, action := range file.Actions {
		if action.Name == "" {
			return nil, fmt.Errorf("action with empty name in actions.yaml")
		}
		if _, dup := byName[action.Name]; dup {
			return nil, fmt.Errorf("duplicate action %q in actions.yaml", action.Name)
		}
		byName[action.Name] = action
	}

	return &Catalog{actions: file.Actions, byName: byName}, nil
}

// Has reports whether the catalog defines the named action.
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Get returns the named action.
func (c *Catalog) Get(name string) (Action, bool) {
	action, ok := c.byName[name]
	return action, ok
}

// Names returns action names in definition order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.actions))
	for i, action := range c.actions {
		names[i] = action.Name
	}
	return names
}

// Tools converts the catalog to the tool schema passed on model calls.
func (c *Catalog) Tools() []llms.Tool {
	tools := make([]llms.Tool, len(c.actions))
	for i, action := range c.actions {
		tools[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        action.Name,
				Description: action.Description,
				Parameters:  action.Parameters,
			},
		}
	}
	return tools
}
