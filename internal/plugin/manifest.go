package plugin

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Adapter commands a manifest may declare.
const (
	CommandPack      = "pack"
	CommandInstall   = "install"
	CommandRunScript = "run-script"
	CommandSetup     = "setup"
	CommandTeardown  = "teardown"
)

// requiredCommands must be declared by every adapter.
var requiredCommands = []string{CommandPack, CommandInstall, CommandRunScript}

var validCommands = []string{CommandPack, CommandInstall, CommandRunScript, CommandSetup, CommandTeardown}

// Commands is the list of commands an adapter answers.
//
// Accepted formats:
//   - string array: commands: [pack, install, run-script]
//   - object array: commands: [{name: pack, description: "npm pack"}]
type Commands []Command

// Command declares one supported adapter command.
type Command struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

func (c *Commands) UnmarshalYAML(n *yaml.Node) error {
	if n == nil {
		*c = nil
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		return fmt.Errorf("commands must be a sequence")
	}

	out := make([]Command, 0, len(n.Content))
	for _, item := range n.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			out = append(out, Command{Name: strings.TrimSpace(item.Value)})
		case yaml.MappingNode:
			var tmp Command
			if err := item.Decode(&tmp); err != nil {
				return fmt.Errorf("invalid command object: %w", err)
			}
			tmp.Name = strings.TrimSpace(tmp.Name)
			out = append(out, tmp)
		default:
			return fmt.Errorf("invalid command entry (must be string or object)")
		}
	}

	*c = out
	return nil
}

// Manifest defines the structure of an adapter's manifest.yaml file.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Protocol    int      `yaml:"protocol"`
	Entrypoint  string   `yaml:"entrypoint"`
	Description string   `yaml:"description,omitempty"`
	PkgManagers []string `yaml:"pkg_managers"`
	Commands    Commands `yaml:"commands"`
	// Config is passed through verbatim on every request.
	Config map[string]any `yaml:"config,omitempty"`
}

// Plugin represents a discovered and validated adapter.
type Plugin struct {
	Name        string   // Adapter name from manifest
	Path        string   // Absolute path to adapter directory
	Entrypoint  string   // Absolute path to entrypoint executable
	Protocol    int      // Protocol version
	Version     string   // Adapter version
	Description string   // Human-readable description
	PkgManagers []string // Package manager names served, lowercased
	Commands    Commands
	Config      map[string]any
}

// SupportsCommand checks if the adapter supports a given command.
func (p *Plugin) SupportsCommand(cmd string) bool {
	for _, c := range p.Commands {
		if c.Name == cmd {
			return true
		}
	}
	return false
}

// Serves reports whether the adapter declared the package manager name.
func (p *Plugin) Serves(pkgManager string) bool {
	return slices.Contains(p.PkgManagers, strings.ToLower(pkgManager))
}

// CommandNames returns declared command names in manifest order.
func (p *Plugin) CommandNames() []string {
	out := make([]string, 0, len(p.Commands))
	for _, c := range p.Commands {
		out = append(out, c.Name)
	}
	return out
}
