// Package chain runs a YAML-described sequence of stateless assistant
// invocations, each step's output folder becoming the next step's context.
//
// A chain file is the chaining protocol written down, not a scheduler:
// steps run strictly in order, one at a time.
package chain

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/memory"
)

// FromPrevious refers to the step immediately before the current one.
const FromPrevious = "previous"

// ModeNone disables context for a step.
const ModeNone = "none"

// Chain is a parsed chain file.
type Chain struct {
	Name     string   `yaml:"name"`
	Defaults Defaults `yaml:"defaults"`
	Steps    []Step   `yaml:"steps"`

	// dir is the directory of the chain file; relative file references resolve against it.
	dir string
}

// Defaults apply to every step that does not set the field itself.
type Defaults struct {
	Model    string    `yaml:"model"`
	MaxTurns int       `yaml:"max_turns"`
	Tools    *ToolSpec `yaml:"tools"`
	Args     Args      `yaml:"args"`
	MCP      []string  `yaml:"mcp"`
	Timeout  string    `yaml:"timeout"`
}

// Step is one invocation in a chain.
type Step struct {
	Name              string    `yaml:"name"`
	Command           string    `yaml:"command"`
	CommandFile       string    `yaml:"command_file"`
	Model             string    `yaml:"model"`
	MaxTurns          int       `yaml:"max_turns"`
	Args              Args      `yaml:"args"`
	Tools             *ToolSpec `yaml:"tools"`
	MCP               []string  `yaml:"mcp"`
	Memory            string    `yaml:"memory"`
	MemoryFile        string    `yaml:"memory_file"`
	Context           *Context  `yaml:"context"`
	Timeout           string    `yaml:"timeout"`
	ContinueOnFailure bool      `yaml:"continue_on_failure"`
}

// ToolSpec is the YAML form of a tool grant.
type ToolSpec struct {
	Preset          string   `yaml:"preset"`
	Groups          []string `yaml:"groups"`
	Add             []string `yaml:"add"`
	Remove          []string `yaml:"remove"`
	SkipPermissions bool     `yaml:"skip_permissions"`
}

// Context says which earlier folders become a step's memory, and how.
// A step without a context block gets a summary of the previous step.
type Context struct {
	From       []string `yaml:"from"`
	Mode       string   `yaml:"mode"`
	Extensions []string `yaml:"extensions"`
	Template   string   `yaml:"template"`
	MaxFileKB  int      `yaml:"max_file_kb"`
}

// Args is an argument map that keeps the key order written in the file.
type Args struct {
	args.Map
}

// UnmarshalYAML decodes a mapping of scalars, preserving order.
func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: args must be a mapping", node.Line)
	}
	var m args.Map
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: argument %q must be a scalar", value.Line, key.Value)
		}
		m.Set(key.Value, value.Value)
	}
	a.Map = m
	return nil
}

// Load reads and validates a chain file.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(path)
		}
		return nil, errors.NewInternal(fmt.Errorf("read chain file: %w", err))
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c.dir = abs
	return c, nil
}

// Parse decodes and validates chain YAML. Unknown keys are rejected.
func Parse(data []byte) (*Chain, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Chain
	if err := dec.Decode(&c); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid chain file: %v", err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks structure: step names, command sources, context references and modes.
// Unnamed steps are named step-1, step-2, ...
func (c *Chain) Validate() error {
	if len(c.Steps) == 0 {
		return errors.NewInvalidRequest("chain has no steps")
	}
	if err := validTimeout(c.Defaults.Timeout); err != nil {
		return err
	}

	seen := make(map[string]int, len(c.Steps))
	for i := range c.Steps {
		s := &c.Steps[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			s.Name = fmt.Sprintf("step-%d", i+1)
		}
		if s.Name == FromPrevious {
			return errors.NewInvalidRequest(fmt.Sprintf("step %d: %q is reserved", i+1, FromPrevious))
		}
		if _, dup := seen[s.Name]; dup {
			return errors.NewInvalidRequest(fmt.Sprintf("duplicate step name %q", s.Name))
		}

		hasCommand := strings.TrimSpace(s.Command) != ""
		hasFile := strings.TrimSpace(s.CommandFile) != ""
		if hasCommand == hasFile {
			return errors.NewInvalidRequest(fmt.Sprintf("step %q: exactly one of command or command_file is required", s.Name))
		}
		if s.Memory != "" && s.MemoryFile != "" {
			return errors.NewInvalidRequest(fmt.Sprintf("step %q: memory and memory_file are mutually exclusive", s.Name))
		}
		if err := validTimeout(s.Timeout); err != nil {
			return err
		}

		if s.Context != nil {
			if s.Context.Mode != ModeNone {
				if _, err := memory.ParseMode(s.Context.Mode); err != nil {
					return errors.NewInvalidRequest(fmt.Sprintf("step %q: unknown context mode %q", s.Name, s.Context.Mode))
				}
			}
			for _, from := range s.Context.From {
				if from == FromPrevious {
					if i == 0 {
						return errors.NewInvalidRequest(fmt.Sprintf("step %q: no previous step", s.Name))
					}
					continue
				}
				if _, ok := seen[from]; !ok {
					return errors.NewInvalidRequest(fmt.Sprintf("step %q: context refers to %q, which is not an earlier step", s.Name, from))
				}
			}
		}
		seen[s.Name] = i
	}
	return nil
}

func validTimeout(s string) error {
	if s == "" {
		return nil
	}
	if d, err := time.ParseDuration(s); err != nil || d <= 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid timeout %q", s))
	}
	return nil
}
