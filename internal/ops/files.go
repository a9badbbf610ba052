package ops

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// FilesMode selects what Files returns.
type FilesMode string

const (
	FilesList         FilesMode = "list"
	FilesReadAll      FilesMode = "read-all"
	FilesReadSpecific FilesMode = "read-specific"
)

// ParseFilesMode canonicalizes a reader mode. Underscores are accepted for
// hyphens, and "list-files" for "list". Empty means list.
func ParseFilesMode(s string) (FilesMode, error) {
	m := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch m {
	case "", "list", "list-files":
		return FilesList, nil
	case string(FilesReadAll), string(FilesReadSpecific):
		return FilesMode(m), nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown read mode %q (known: list, read-all, read-specific)", s))
}

// FilesInput contains parameters for the Files operation.
type FilesInput struct {
	ID       string
	Mode     string
	Pattern  string // glob on the file name or relative path; default "*"
	File     string // required for read-specific
	MaxFiles int    // default: 10, max: 100
	// MaxFileBytes bounds each file body. Default: 1 MiB.
	MaxFileBytes int64
}

// FileEntry describes one file in a folder.
type FileEntry struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Type      string `json:"type"`
	Truncated bool   `json:"truncated,omitempty"`
}

// FilesOutput contains the result of the Files operation.
type FilesOutput struct {
	ID      string      `json:"id"`
	Mode    FilesMode   `json:"mode"`
	Files   []FileEntry `json:"files"`
	Text    string      `json:"text"`
	Matched int         `json:"matched"`
	HasMore bool        `json:"has_more"`
}

// Files lists or reads the produced files of a folder.
func Files(ctx context.Context, s *store.Store, input FilesInput) (*FilesOutput, error) {
	mode, err := ParseFilesMode(input.Mode)
	if err != nil {
		return nil, err
	}

	pattern := strings.TrimSpace(input.Pattern)
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid file pattern %q", pattern))
	}

	maxFiles := input.MaxFiles
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if maxFiles > MaxMaxFiles {
		maxFiles = MaxMaxFiles
	}

	limit := input.MaxFileBytes
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	_, infos, err := s.Read(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	out := &FilesOutput{ID: input.ID, Mode: mode, Files: []FileEntry{}}

	if mode == FilesReadSpecific {
		name := strings.TrimSpace(input.File)
		if name == "" {
			return nil, errors.NewInvalidRequest("file is required for read-specific mode")
		}
		data, truncated, err := s.ReadFile(ctx, input.ID, name, limit)
		if err != nil {
			return nil, err
		}
		out.Files = append(out.Files, FileEntry{Path: name, Size: int64(len(data)), Type: path.Ext(name), Truncated: truncated})
		for _, f := range infos {
			if f.Path == name {
				out.Files[0].Size = f.Size
			}
		}
		out.Text = renderBody(data, out.Files[0].Size)
		out.Matched = 1
		return out, nil
	}

	var matched []store.FileInfo
	for _, f := range infos {
		if matchFile(pattern, f.Path) {
			matched = append(matched, f)
		}
	}
	out.Matched = len(matched)
	if len(matched) > maxFiles {
		matched = matched[:maxFiles]
		out.HasMore = true
	}
	for _, f := range matched {
		out.Files = append(out.Files, FileEntry{Path: f.Path, Size: f.Size, Type: path.Ext(f.Path)})
	}

	var sb strings.Builder
	switch mode {
	case FilesList:
		fmt.Fprintf(&sb, "Files in %s:\n", input.ID)
		for _, f := range out.Files {
			fmt.Fprintf(&sb, "- %s (%d bytes)\n", f.Path, f.Size)
		}
	case FilesReadAll:
		for i := range out.Files {
			f := &out.Files[i]
			data, truncated, err := s.ReadFile(ctx, input.ID, f.Path, limit)
			if err != nil {
				return nil, err
			}
			f.Truncated = truncated
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "=== %s ===\n%s\n", f.Path, renderBody(data, f.Size))
		}
	}
	out.Text = sb.String()
	return out, nil
}

// matchFile matches pattern against the relative path, or against the base
// name when the pattern has no directory part.
func matchFile(pattern, rel string) bool {
	if ok, _ := path.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(rel))
		return ok
	}
	return false
}

func renderBody(data []byte, size int64) string {
	if !utf8.Valid(data) {
		return fmt.Sprintf("[binary file: %d bytes]", size)
	}
	return string(data)
}
