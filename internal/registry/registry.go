// Package registry holds the set of MCP servers available to assistant calls.
//
// A Registry is an explicit value created by New; there is no package-level
// instance. Entries start disabled, are enabled with a verbatim config payload,
// and Resolve returns the enabled subset for one invocation.
package registry

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/hpungsan/baton/internal/errors"
)

// Server transport types.
const (
	TypeStdio = "stdio"
	TypeHTTP  = "http"
	TypeSSE   = "sse"
)

// ServerSpec is the typed view of an MCP server config used for validation.
// The stored config is never rebuilt from it.
type ServerSpec struct {
	Type    string            `mapstructure:"type"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

// Entry is one named server known to the registry.
type Entry struct {
	Name      string         `json:"name"`
	Config    map[string]any `json:"config,omitempty"`
	Enabled   bool           `json:"enabled"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Resolved is the enabled server set handed to one assistant call.
type Resolved struct {
	Servers map[string]map[string]any `json:"mcpServers"`
}

// Registry is safe for concurrent use. Writes to the same name are
// serialized; reads never wait on a write to a different name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// New creates an empty registry with no servers enabled.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (r *Registry) nameLock(name string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// Enable registers or replaces the config for name and marks it enabled.
func (r *Registry) Enable(name string, config map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.NewRegistry(name, "name is required")
	}
	if _, err := Validate(config); err != nil {
		return errors.NewRegistry(name, err.Error())
	}

	l := r.nameLock(name)
	l.Lock()
	defer l.Unlock()

	entry := &Entry{
		Name:      name,
		Config:    maps.Clone(config),
		Enabled:   true,
		UpdatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	r.entries[name] = entry
	r.mu.Unlock()
	return nil
}

// Disable marks name disabled. Unknown or already-disabled names are an error.
func (r *Registry) Disable(name string) error {
	name = strings.TrimSpace(name)
	l := r.nameLock(name)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	cur, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return errors.NewRegistry(name, "not registered")
	}
	if !cur.Enabled {
		return errors.NewRegistry(name, "already disabled")
	}

	next := *cur
	next.Enabled = false
	next.UpdatedAt = r.now().UTC()

	r.mu.Lock()
	r.entries[name] = &next
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Config = maps.Clone(e.Config)
	return out, true
}

// List returns every known entry, sorted by name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		cp.Config = maps.Clone(e.Config)
		out = append(out, cp)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Resolve returns the enabled servers. Disabled entries never appear.
func (r *Registry) Resolve() Resolved {
	r.mu.RLock()
	defer r.mu.RUnlock()

	servers := make(map[string]map[string]any)
	for name, e := range r.entries {
		if e.Enabled {
			servers[name] = maps.Clone(e.Config)
		}
	}
	return Resolved{Servers: servers}
}

// Only narrows r to the named servers. Unknown or disabled names are an error.
func (r Resolved) Only(names []string) (Resolved, error) {
	out := Resolved{Servers: make(map[string]map[string]any, len(names))}
	for _, n := range names {
		cfg, ok := r.Servers[n]
		if !ok {
			return Resolved{}, errors.NewRegistry(n, "not enabled")
		}
		out.Servers[n] = cfg
	}
	return out, nil
}

// Names returns the enabled server names, sorted.
func (r Resolved) Names() []string {
	names := make([]string, 0, len(r.Servers))
	for n := range r.Servers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Empty reports whether no servers are enabled.
func (r Resolved) Empty() bool {
	return len(r.Servers) == 0
}

// Redacted is the placeholder recorded in place of env and header values.
const Redacted = "[redacted]"

// Redacted returns a copy of the server configs with every env and headers
// value replaced by Redacted. Nil when no servers are selected.
func (r Resolved) Redacted() map[string]map[string]any {
	if len(r.Servers) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(r.Servers))
	for name, cfg := range r.Servers {
		cp := maps.Clone(cfg)
		for _, key := range []string{"env", "headers"} {
			switch v := cp[key].(type) {
			case map[string]any:
				masked := make(map[string]any, len(v))
				for k := range v {
					masked[k] = Redacted
				}
				cp[key] = masked
			case map[string]string:
				masked := make(map[string]any, len(v))
				for k := range v {
					masked[k] = Redacted
				}
				cp[key] = masked
			case nil:
			default:
				cp[key] = Redacted
			}
		}
		out[name] = cp
	}
	return out
}

// JSON renders the assistant's --mcp-config document: {"mcpServers": {...}}.
func (r Resolved) JSON() (string, error) {
	servers := r.Servers
	if servers == nil {
		servers = map[string]map[string]any{}
	}
	data, err := json.Marshal(map[string]any{"mcpServers": servers})
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	return string(data), nil
}

// Validate decodes config into a ServerSpec and checks transport requirements.
func Validate(config map[string]any) (ServerSpec, error) {
	if len(config) == 0 {
		return ServerSpec{}, fmt.Errorf("config is required")
	}

	var spec ServerSpec
	if err := mapstructure.Decode(config, &spec); err != nil {
		return ServerSpec{}, fmt.Errorf("invalid config: %w", err)
	}

	if spec.Type == "" {
		switch {
		case spec.Command != "":
			spec.Type = TypeStdio
		case spec.URL != "":
			spec.Type = TypeHTTP
		}
	}

	switch spec.Type {
	case TypeStdio:
		if strings.TrimSpace(spec.Command) == "" {
			return ServerSpec{}, fmt.Errorf("stdio server requires command")
		}
	case TypeHTTP, TypeSSE:
		if strings.TrimSpace(spec.URL) == "" {
			return ServerSpec{}, fmt.Errorf("%s server requires url", spec.Type)
		}
	case "":
		return ServerSpec{}, fmt.Errorf("config needs command (stdio) or url (http/sse)")
	default:
		return ServerSpec{}, fmt.Errorf("unknown server type %q", spec.Type)
	}
	return spec, nil
}

// seedFile is the on-disk shape accepted by LoadFile.
type seedFile struct {
	MCPServers map[string]map[string]any `json:"mcpServers" yaml:"mcpServers"`
}

// LoadFile enables every server listed in a JSON or YAML seed file.
// YAML is chosen by .yaml/.yml extension; anything else is parsed as JSON.
// Returns the names enabled, sorted.
func (r *Registry) LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp servers file: %w", err)
	}

	var seed seedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &seed)
	default:
		err = json.Unmarshal(data, &seed)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	names := make([]string, 0, len(seed.MCPServers))
	for name := range seed.MCPServers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if err := r.Enable(name, seed.MCPServers[name]); err != nil {
			return nil, err
		}
	}
	return names, nil
}
