package store

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/baton/internal/errors"
)

// cleanRelPath validates a folder-relative file path and returns its cleaned,
// slash-separated form.
func cleanRelPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.NewInvalidRequest("file path is required")
	}
	if strings.ContainsRune(p, 0) {
		return "", errors.NewInvalidRequest("file path contains NUL")
	}
	slashed := filepath.ToSlash(p)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", errors.NewInvalidRequest(fmt.Sprintf("file path must be relative: %s", p))
	}
	if containsTraversal(slashed) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("file path must not contain directory traversal (..): %s", p))
	}
	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(slashed)))
	if cleaned == "." {
		return "", errors.NewInvalidRequest("file path is required")
	}
	return cleaned, nil
}

// checkNoSymlinks refuses rel when any existing component of it under root is
// a symlink. Components that do not exist yet are allowed.
func checkNoSymlinks(root, rel string) error {
	cur := root
	for _, part := range strings.Split(rel, "/") {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return errors.NewInternal(err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return errors.NewInvalidRequest(fmt.Sprintf("file path crosses a symlink: %s", rel))
		}
	}
	return nil
}

// containsTraversal reports whether any path segment is "..".
func containsTraversal(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// isInternal reports whether a folder-relative path belongs to baton itself.
func isInternal(rel string) bool {
	first, _, _ := strings.Cut(rel, "/")
	return strings.HasPrefix(first, InternalPrefix)
}
