package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/baton/internal/args"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// Mode selects how a folder is rendered into memory.
type Mode string

const (
	ModeFullContent Mode = "full-content"
	ModeFileList    Mode = "file-list"
	ModeSummary     Mode = "summary"
	ModeCustom      Mode = "custom"
)

// DefaultTemplate is used by custom mode when no template is given.
const DefaultTemplate = "# Previous Output\n\nThe following files were generated:\n${FILE_LIST}\n\nKey files:\n${FILE_CONTENTS}"

const commandExcerptRunes = 200

// ParseMode canonicalizes a mode name; underscores are accepted for hyphens.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	switch m {
	case "":
		return ModeSummary, nil
	case ModeFullContent, ModeFileList, ModeSummary, ModeCustom:
		return m, nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown context mode %q (known: full-content, file-list, summary, custom)", s))
}

// Builder renders output folders into memory text.
type Builder struct {
	Store        FolderReader
	MaxFileBytes int64
	Extensions   []string
	MaxKeyFiles  int
}

// FolderRequest describes one folder-to-memory build.
type FolderRequest struct {
	ID           string
	Mode         Mode
	AppendTo     string
	Extensions   []string
	Template     string
	MaxFileBytes int64
}

// BuildFromFolder renders the folder named by req.ID. An empty ID yields
// AppendTo unchanged.
func (b *Builder) BuildFromFolder(ctx context.Context, req FolderRequest) (*Result, error) {
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.ID) == "" {
		return newResult(req.AppendTo, string(mode), ""), nil
	}
	if b.Store == nil {
		return nil, errors.NewInternal(fmt.Errorf("memory builder has no store"))
	}

	m, files, err := b.Store.Read(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	r := &folderRender{
		ctx:      ctx,
		b:        b,
		id:       req.ID,
		manifest: m,
		files:    filterFiles(files, b.extensions(req.Extensions)),
		maxBytes: b.maxFileBytes(req.MaxFileBytes),
	}

	var body string
	switch mode {
	case ModeFullContent:
		body, err = r.fullContent()
	case ModeFileList:
		body = r.fileList()
	case ModeSummary:
		body = r.summary()
	case ModeCustom:
		body, err = r.custom(req.Template)
	}
	if err != nil {
		return nil, err
	}

	return newResult(withPrefix(req.AppendTo, body), string(mode), req.ID), nil
}

func (b *Builder) extensions(override []string) []string {
	if len(override) > 0 {
		return override
	}
	if len(b.Extensions) > 0 {
		return b.Extensions
	}
	return DefaultExtensions
}

func (b *Builder) maxFileBytes(override int64) int64 {
	if override > 0 {
		return override
	}
	if b.MaxFileBytes > 0 {
		return b.MaxFileBytes
	}
	return DefaultMaxFileBytes
}

func (b *Builder) maxKeyFiles() int {
	if b.MaxKeyFiles > 0 {
		return b.MaxKeyFiles
	}
	return DefaultMaxKeyFiles
}

// NormalizeExtension maps "*.py", "py" and ".PY" to ".py". "*" means all files.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "*" || ext == "*.*" {
		return "*"
	}
	ext = strings.TrimPrefix(ext, "*")
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// filterFiles keeps files whose extension is in exts. Order is preserved.
func filterFiles(files []store.FileInfo, exts []string) []store.FileInfo {
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		if n := NormalizeExtension(e); n != "" {
			if n == "*" {
				return files
			}
			allowed[n] = true
		}
	}
	out := make([]store.FileInfo, 0, len(files))
	for _, f := range files {
		if allowed[extOf(f.Path)] {
			out = append(out, f)
		}
	}
	return out
}

func extOf(p string) string {
	base := p[strings.LastIndex(p, "/")+1:]
	i := strings.LastIndex(base, ".")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

type folderRender struct {
	ctx      context.Context
	b        *Builder
	id       string
	manifest *store.Manifest
	files    []store.FileInfo
	maxBytes int64
}

// fileBody returns the text to embed for f, or a bracketed placeholder.
func (r *folderRender) fileBody(f store.FileInfo) (string, error) {
	if f.Size > r.maxBytes {
		return fmt.Sprintf("[omitted: exceeds size limit (%d bytes)]", f.Size), nil
	}
	data, _, err := r.b.Store.ReadFile(r.ctx, r.id, f.Path, r.maxBytes)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("[binary file: %d bytes]", f.Size), nil
	}
	return string(data), nil
}

func (r *folderRender) fullContent() (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Files from %s\n\n", r.id)
	for _, f := range r.files {
		body, err := r.fileBody(f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "## %s\n\n```\n%s\n```\n\n", f.Path, body)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

func (r *folderRender) fileListLines() string {
	var sb strings.Builder
	for _, f := range r.files {
		fmt.Fprintf(&sb, "- %s (%d bytes)\n", f.Path, f.Size)
	}
	return sb.String()
}

func (r *folderRender) fileList() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Files created in %s\n\n", r.id)
	sb.WriteString(r.fileListLines())
	fmt.Fprintf(&sb, "\nStatus: %s\n", r.manifest.Status)
	return sb.String()
}

func (r *folderRender) summary() string {
	m := r.manifest
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Previous execution: %s\n\n", r.id)
	fmt.Fprintf(&sb, "- Status: %s\n", m.Status)
	if m.Model != "" {
		fmt.Fprintf(&sb, "- Model: %s\n", m.Model)
	}
	fmt.Fprintf(&sb, "- Command: %s\n", excerpt(m.Command, commandExcerptRunes))
	fmt.Fprintf(&sb, "- Created: %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Duration: %s\n", time.Duration(m.DurationMS)*time.Millisecond)
	fmt.Fprintf(&sb, "- Turns: %d\n", m.Turns)
	if m.SessionID != "" {
		fmt.Fprintf(&sb, "- Session: %s\n", m.SessionID)
	}
	if m.PreviousID != "" {
		fmt.Fprintf(&sb, "- Previous: %s\n", m.PreviousID)
	}
	if m.Error != nil {
		fmt.Fprintf(&sb, "- Error: %s: %s\n", m.Error.Code, m.Error.Message)
	}
	fmt.Fprintf(&sb, "\n## Files created (%d files, %d bytes total):\n", len(m.Files), m.TotalBytes)
	for _, f := range m.Files {
		fmt.Fprintf(&sb, "- %s\n", f.Path)
	}
	if m.ResponseExcerpt != "" {
		fmt.Fprintf(&sb, "\n## Response excerpt:\n\n%s\n", m.ResponseExcerpt)
	}
	return sb.String()
}

func (r *folderRender) custom(tmpl string) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	m := r.manifest

	vars := args.NewMap(
		"FOLDER_ID", r.id,
		"STATUS", string(m.Status),
		"MODEL", m.Model,
		"COMMAND", m.Command,
		"SESSION_ID", m.SessionID,
		"FILE_COUNT", fmt.Sprint(len(m.Files)),
		"FILE_LIST", r.fileListLines(),
	)

	for _, name := range args.Placeholders(tmpl) {
		switch name {
		case "FILE_CONTENTS":
			contents, err := r.keyFileContents()
			if err != nil {
				return "", err
			}
			vars.Set("FILE_CONTENTS", contents)
		case "MANIFEST":
			data, err := json.MarshalIndent(m, "", "  ")
			if err != nil {
				return "", errors.NewInternal(err)
			}
			vars.Set("MANIFEST", string(data))
		}
	}

	return args.Substitute(tmpl, vars, args.PolicyPassThrough)
}

func (r *folderRender) keyFileContents() (string, error) {
	var sb strings.Builder
	for i, f := range r.files {
		if i == r.b.maxKeyFiles() {
			break
		}
		body, err := r.fileBody(f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "### %s\n\n```\n%s\n```\n\n", f.Path, body)
	}
	return sb.String(), nil
}

// excerpt truncates s to n runes, marking the cut.
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
