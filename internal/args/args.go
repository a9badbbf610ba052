// Package args merges named argument maps and substitutes ${NAME}
// placeholders into command and memory text.
package args

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// Policy controls what happens to placeholders with no matching argument.
type Policy string

const (
	PolicyPassThrough Policy = "pass-through" // default: leave ${NAME} literally
	PolicyStrict      Policy = "strict"       // fail with MISSING_ARGUMENT
)

// placeholderPattern matches ${NAME}. Anything else inside ${...} is plain text.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

// Map is an insertion-ordered name -> value mapping.
// The zero value is an empty map ready to use.
type Map struct {
	keys   []string
	values map[string]string
}

// NewMap builds a Map from alternating key, value strings.
func NewMap(kv ...string) Map {
	var m Map
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

// Set assigns value to key. An existing key keeps its position.
func (m *Map) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// With returns a copy of m with key set to value.
func (m Map) With(key, value string) Map {
	out := m.Clone()
	out.Set(key, value)
	return out
}

// Get returns the value for key.
func (m Map) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries.
func (m Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m Map) Keys() []string { return slices.Clone(m.keys) }

// Clone returns an independent copy.
func (m Map) Clone() Map {
	out := Map{keys: slices.Clone(m.keys), values: make(map[string]string, len(m.values))}
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Merge returns base overlaid by each override in turn; later overrides win key-for-key.
// Keys keep the position of their first appearance.
func Merge(base Map, overrides ...Map) Map {
	out := base.Clone()
	for _, o := range overrides {
		for _, k := range o.keys {
			out.Set(k, o.values[k])
		}
	}
	return out
}

// Substitute replaces ${NAME} placeholders in text with values from m.
// Replacement is a single pass: values are never re-expanded.
func Substitute(text string, m Map, policy Policy) (string, error) {
	if !strings.Contains(text, "${") {
		return text, nil
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := m.values[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})

	if policy == PolicyStrict && len(missing) > 0 {
		slices.Sort(missing)
		return "", errors.NewMissingArgument(slices.Compact(missing))
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in text, in order of appearance.
func Placeholders(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ParseJSON parses a JSON object into a Map, preserving key order.
// Strings are taken verbatim, null becomes "", other values keep their compact JSON text.
func ParseJSON(s string) (Map, error) {
	var m Map
	if strings.TrimSpace(s) == "" {
		return m, nil
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return m, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments JSON: %v", err))
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return m, errors.NewInvalidRequest("arguments JSON must be an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return m, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments JSON: %v", err))
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return m, errors.NewInvalidRequest(fmt.Sprintf("invalid value for %q: %v", key, err))
		}
		value, err := rawToString(raw)
		if err != nil {
			return m, errors.NewInvalidRequest(fmt.Sprintf("invalid value for %q: %v", key, err))
		}
		m.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return m, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments JSON: %v", err))
	}
	return m, nil
}

func rawToString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return "", nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case bytes.Equal(trimmed, []byte("null")):
		return "", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ParsePairs parses KEY=VALUE strings. Values may contain '='.
func ParsePairs(pairs []string) (Map, error) {
	var m Map
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return m, errors.NewInvalidRequest(fmt.Sprintf("argument %q must be KEY=VALUE", p))
		}
		m.Set(key, value)
	}
	return m, nil
}

// FromStringMap builds a Map from a plain map, with keys sorted for determinism.
func FromStringMap(in map[string]string) Map {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var m Map
	for _, k := range keys {
		m.Set(k, in[k])
	}
	return m
}

// MarshalJSON renders the map as a JSON object in insertion order.
func (m Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object, preserving key order.
func (m *Map) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Map{}
		return nil
	}
	parsed, err := ParseJSON(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// JSON renders the map as indented JSON, the form shown to workflow authors.
func (m Map) JSON() string {
	data, _ := m.MarshalJSON()
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}
