package args

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/baton/internal/errors"
)

func TestSubstitute_Scenario(t *testing.T) {
	m := NewMap("LANGUAGE", "example", "THING", "script")

	out, err := Substitute("Create a ${LANGUAGE} ${THING}", m, PolicyPassThrough)
	require.NoError(t, err)
	assert.Equal(t, "Create a example script", out)
}

func TestSubstitute_NoPlaceholdersIsIdentity(t *testing.T) {
	texts := []string{
		"",
		"plain text",
		"dollar $ sign and {braces}",
		"$LANGUAGE without braces",
		"${ spaced }",
		"unicode ✓ ünïcode",
	}
	maps := []Map{{}, NewMap("LANGUAGE", "go"), NewMap(" spaced ", "x")}

	for _, text := range texts {
		for _, m := range maps {
			for _, policy := range []Policy{PolicyPassThrough, PolicyStrict} {
				out, err := Substitute(text, m, policy)
				require.NoError(t, err)
				assert.Equal(t, text, out)
			}
		}
	}
}

func TestSubstitute_MissingPassThrough(t *testing.T) {
	out, err := Substitute("Hello ${NAME}, from ${PLACE}", NewMap("NAME", "Ada"), PolicyPassThrough)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, from ${PLACE}", out)
}

func TestSubstitute_MissingStrict(t *testing.T) {
	_, err := Substitute("${B} ${A} ${B} ${C}", NewMap("C", "ok"), PolicyStrict)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingArgument))

	var bErr *errors.BatonError
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, []string{"A", "B"}, bErr.Details["missing"])
}

func TestSubstitute_NoRecursiveExpansion(t *testing.T) {
	m := NewMap("A", "${B}", "B", "boom")
	out, err := Substitute("${A}", m, PolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, "${B}", out)
}

func TestSubstitute_DottedNames(t *testing.T) {
	m := NewMap("project.name", "baton", "build-id", "42")
	out, err := Substitute("${project.name}#${build-id}", m, PolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, "baton#42", out)
}

func TestSubstitute_OnlyNamesArePlaceholders(t *testing.T) {
	text := "${1/x} ${@} ${9lives} ${a b} ${OK}"
	out, err := Substitute(text, NewMap("OK", "yes"), PolicyStrict)
	require.NoError(t, err)
	assert.Equal(t, "${1/x} ${@} ${9lives} ${a b} yes", out)
	assert.Equal(t, []string{"OK"}, Placeholders(text))
}

func TestMerge_LaterOverridesWin(t *testing.T) {
	base := NewMap("A", "1", "B", "2")
	o1 := NewMap("B", "20", "C", "30")
	o2 := NewMap("C", "300", "D", "400")

	merged := Merge(base, o1, o2)

	assert.Equal(t, []string{"A", "B", "C", "D"}, merged.Keys())
	for k, want := range map[string]string{"A": "1", "B": "20", "C": "300", "D": "400"} {
		got, ok := merged.Get(k)
		assert.True(t, ok, k)
		assert.Equal(t, want, got, k)
	}

	// Inputs are untouched
	v, _ := base.Get("B")
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, base.Len())
}

func TestMerge_ZeroBase(t *testing.T) {
	merged := Merge(Map{}, NewMap("X", "1"))
	assert.Equal(t, 1, merged.Len())
}

func TestWith_CopyOnWrite(t *testing.T) {
	base := NewMap("A", "1")
	next := base.With("A", "2").With("B", "3")

	v, _ := base.Get("A")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, base.Len())
	assert.Equal(t, []string{"A", "B"}, next.Keys())
}

func TestParseJSON(t *testing.T) {
	m, err := ParseJSON(`{"PROJECT_NAME": "MyProject", "COUNT": 3, "DEBUG": true, "EMPTY": null, "LIST": [1, 2], "OBJ": {"a": "b"}}`)
	require.NoError(t, err)

	assert.Equal(t, []string{"PROJECT_NAME", "COUNT", "DEBUG", "EMPTY", "LIST", "OBJ"}, m.Keys())
	expect := map[string]string{
		"PROJECT_NAME": "MyProject",
		"COUNT":        "3",
		"DEBUG":        "true",
		"EMPTY":        "",
		"LIST":         "[1,2]",
		"OBJ":          `{"a":"b"}`,
	}
	for k, want := range expect {
		got, _ := m.Get(k)
		assert.Equal(t, want, got, k)
	}
}

func TestParseJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{not json}`},
		{"array", `["a"]`},
		{"truncated", `{"a": "b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
		})
	}
}

func TestParseJSON_Empty(t *testing.T) {
	m, err := ParseJSON("  ")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestParsePairs(t *testing.T) {
	m, err := ParsePairs([]string{"A=1", "URL=http://x?y=z", "EMPTY="})
	require.NoError(t, err)

	v, _ := m.Get("URL")
	assert.Equal(t, "http://x?y=z", v)
	v, ok := m.Get("EMPTY")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	_, err = ParsePairs([]string{"novalue"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = ParsePairs([]string{"=x"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestMap_JSONRoundTripKeepsOrder(t *testing.T) {
	m := NewMap("Z", "last-alpha", "A", "first-alpha")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"Z":"last-alpha","A":"first-alpha"}`, string(data))

	var back Map
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"Z", "A"}, back.Keys())
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("${A} and ${B} and ${A} but not $C or ${}")
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestFromStringMap_Sorted(t *testing.T) {
	m := FromStringMap(map[string]string{"b": "2", "a": "1", "c": "3"})
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())
}
