// Package memory turns prior output folders and ad hoc sources into the
// memory text handed to the next assistant call.
//
// Building memory only reads; it never modifies a folder, and the same
// folder and request always produce the same text.
package memory

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/baton/internal/store"
)

// Defaults applied when a Builder or request leaves a bound unset.
const (
	DefaultMaxFileBytes = 100 * 1024
	DefaultMaxKeyFiles  = 5
)

// DefaultExtensions is the file filter for content-bearing modes.
var DefaultExtensions = []string{".py", ".js", ".ts", ".md", ".txt", ".json"}

// FolderReader is the read side of the output store.
type FolderReader interface {
	Read(ctx context.Context, id string) (*store.Manifest, []store.FileInfo, error)
	ReadFile(ctx context.Context, id, name string, limit int64) ([]byte, bool, error)
}

// Result is a built memory text with its size accounting.
type Result struct {
	Text           string `json:"text"`
	Mode           string `json:"mode"`
	Source         string `json:"source,omitempty"`
	Chars          int    `json:"chars"`
	TokensEstimate int    `json:"tokens_estimate"`
}

func newResult(text, mode, source string) *Result {
	return &Result{
		Text:           text,
		Mode:           mode,
		Source:         source,
		Chars:          CountChars(text),
		TokensEstimate: EstimateTokens(text),
	}
}

// CountChars returns the number of Unicode code points in text.
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens estimates token count as 1.3x the whitespace-separated word count.
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * 1.3))
}

// withPrefix joins appendTo and body with a blank line.
func withPrefix(appendTo, body string) string {
	if appendTo == "" {
		return body
	}
	if body == "" {
		return appendTo
	}
	return appendTo + "\n\n" + body
}
