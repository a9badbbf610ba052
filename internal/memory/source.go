package memory

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// Kind names a non-folder memory source.
type Kind string

const (
	KindText     Kind = "text"
	KindFile     Kind = "file"
	KindProject  Kind = "project"
	KindCombined Kind = "combined"
)

// Source describes memory assembled from text, a file on disk, and/or a
// project memory document (CLAUDE.md style).
type Source struct {
	Kind     Kind
	Text     string
	FilePath string
	Project  string
	AppendTo string
}

// Build assembles memory from src. A named file that does not exist is a
// NOT_FOUND error.
func Build(ctx context.Context, src Source) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("build memory")
	}

	kind := Kind(strings.ToLower(strings.TrimSpace(string(src.Kind))))
	if kind == "claude_md" || kind == "claude-md" {
		kind = KindProject
	}
	if kind == "" {
		kind = KindText
	}

	var body string
	switch kind {
	case KindText:
		body = src.Text
	case KindProject:
		body = src.Project
	case KindFile:
		content, err := readSourceFile(src.FilePath)
		if err != nil {
			return nil, err
		}
		body = content
	case KindCombined:
		var parts []string
		if src.Project != "" {
			parts = append(parts, src.Project)
		}
		if src.Text != "" {
			parts = append(parts, "## Additional Context\n\n"+src.Text)
		}
		if src.FilePath != "" {
			content, err := readSourceFile(src.FilePath)
			if err != nil {
				return nil, err
			}
			parts = append(parts, "## File Content\n\n"+content)
		}
		body = strings.Join(parts, "\n\n")
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown memory source %q (known: text, file, project, combined)", src.Kind))
	}

	text := strings.TrimSpace(withPrefix(src.AppendTo, body))
	return newResult(text, string(kind), src.FilePath), nil
}

func readSourceFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.NewInvalidRequest("file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", errors.NewNotFound(path)
		}
		return "", errors.NewInternal(fmt.Errorf("read memory file: %w", err))
	}
	return string(data), nil
}
