// Package tools resolves the capability allow-list granted to one assistant call.
//
// Resolution is a pure function of (preset, groups, additions, removals):
// the preset's base set, plus group expansions and additions, minus removals.
// Removals always win.
package tools

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// Preset names a fixed base capability set.
type Preset string

const (
	PresetAll             Preset = "all"
	PresetReadOnly        Preset = "read-only"
	PresetFileOperations  Preset = "file-operations"
	PresetCodeDevelopment Preset = "code-development"
	PresetWeb             Preset = "web"
	PresetMinimal         Preset = "minimal"
	PresetNone            Preset = "none"
)

var presets = map[Preset][]string{
	PresetAll:             {"Read", "Write", "Edit", "MultiEdit", "Bash", "Grep", "Glob", "LS", "WebFetch", "WebSearch"},
	PresetReadOnly:        {"Read", "Grep", "Glob", "LS"},
	PresetFileOperations:  {"Read", "Write", "Edit", "MultiEdit", "Grep", "Glob", "LS"},
	PresetCodeDevelopment: {"Read", "Write", "Edit", "MultiEdit", "Bash", "Grep", "Glob", "LS"},
	PresetWeb:             {"WebFetch", "WebSearch"},
	PresetMinimal:         {"Read", "Write"},
	PresetNone:            {},
}

// presetAliases maps legacy underscore spellings to canonical names.
var presetAliases = map[string]Preset{
	"read_only": PresetReadOnly,
	"file_ops":  PresetFileOperations,
	"code_dev":  PresetCodeDevelopment,
}

// groups are named capability bundles that expand into additions.
var groups = map[string][]string{
	"file-read":  {"Read", "LS"},
	"file-write": {"Write"},
	"file-edit":  {"Edit", "MultiEdit"},
	"bash":       {"Bash"},
	"search":     {"Grep", "Glob"},
	"web":        {"WebFetch", "WebSearch"},
}

// Spec is the input to Resolve.
type Spec struct {
	Preset          string
	Groups          []string
	Additions       []string
	Removals        []string
	SkipPermissions bool
}

// Config is an immutable, resolved capability grant.
type Config struct {
	Preset          Preset   `json:"preset"`
	Additions       []string `json:"additions,omitempty"`
	Removals        []string `json:"removals,omitempty"`
	Allowed         []string `json:"allowed"`
	SkipPermissions bool     `json:"skip_permissions"`
}

// Presets returns the preset vocabulary in a stable order.
func Presets() []string {
	return []string{
		string(PresetAll),
		string(PresetReadOnly),
		string(PresetFileOperations),
		string(PresetCodeDevelopment),
		string(PresetWeb),
		string(PresetMinimal),
		string(PresetNone),
	}
}

// Groups returns the known capability group names, sorted.
func Groups() []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParsePreset canonicalizes a preset name. Unknown names are an INVALID_PRESET error.
func ParsePreset(name string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := presetAliases[key]; ok {
		return alias, nil
	}
	if _, ok := presets[Preset(key)]; ok {
		return Preset(key), nil
	}
	return "", errors.NewInvalidPreset(name, Presets())
}

// Base returns a copy of the preset's base capability set.
func Base(p Preset) ([]string, error) {
	base, ok := presets[p]
	if !ok {
		return nil, errors.NewInvalidPreset(string(p), Presets())
	}
	out := slices.Clone(base)
	slices.Sort(out)
	return out, nil
}

// Resolve computes the effective allow-list for spec.
func Resolve(spec Spec) (Config, error) {
	preset, err := ParsePreset(spec.Preset)
	if err != nil {
		return Config{}, err
	}

	set := make(map[string]bool)
	for _, c := range presets[preset] {
		set[c] = true
	}

	for _, g := range spec.Groups {
		caps, ok := groups[strings.ToLower(strings.TrimSpace(g))]
		if !ok {
			return Config{}, errors.NewInvalidRequest(fmt.Sprintf("unknown capability group %q (known: %s)", g, strings.Join(Groups(), ", ")))
		}
		for _, c := range caps {
			set[c] = true
		}
	}

	additions := clean(spec.Additions)
	removals := clean(spec.Removals)
	for _, c := range additions {
		set[c] = true
	}
	for _, c := range removals {
		delete(set, c)
	}

	allowed := make([]string, 0, len(set))
	for c := range set {
		allowed = append(allowed, c)
	}
	slices.Sort(allowed)

	return Config{
		Preset:          preset,
		Additions:       additions,
		Removals:        removals,
		Allowed:         allowed,
		SkipPermissions: spec.SkipPermissions,
	}, nil
}

// Allows reports whether capability c is granted.
func (c Config) Allows(capability string) bool {
	_, found := slices.BinarySearch(c.Allowed, capability)
	return found
}

// String renders the legacy wire form "Read,Write|skip_permissions:false".
func (c Config) String() string {
	return fmt.Sprintf("%s|skip_permissions:%t", strings.Join(c.Allowed, ","), c.SkipPermissions)
}

// CLIArgs renders the assistant command-line flags for this grant.
func (c Config) CLIArgs() []string {
	args := make([]string, 0, 2*len(c.Allowed)+1)
	for _, tool := range c.Allowed {
		args = append(args, "--allowedTools", tool)
	}
	if c.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// ParseList splits a comma-separated capability list, dropping blanks.
func ParseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return clean(strings.Split(s, ","))
}

// clean trims, drops empties, deduplicates and sorts.
func clean(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
