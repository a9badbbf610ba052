package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
)

// Read returns the manifest and file list of a published folder.
func (s *Store) Read(ctx context.Context, id string) (*Manifest, []FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.NewCancelled("read folder")
	}
	dir, err := s.Path(id)
	if err != nil {
		return nil, nil, err
	}
	m, err := readManifest(dir)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, nil, errors.NewNotFound(id)
		}
		return nil, nil, errors.NewInternal(err)
	}
	return m, slices.Clone(m.Files), nil
}

// ReadFile returns the content of one file in a published folder.
// If limit > 0, at most limit bytes are returned and truncated reports whether more exist.
func (s *Store) ReadFile(ctx context.Context, id, name string, limit int64) (data []byte, truncated bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errors.NewCancelled("read file")
	}
	dir, err := s.Path(id)
	if err != nil {
		return nil, false, err
	}
	rel, err := cleanRelPath(name)
	if err != nil {
		return nil, false, err
	}
	if err := checkNoSymlinks(dir, rel); err != nil {
		return nil, false, err
	}

	path := filepath.Join(dir, filepath.FromSlash(rel))
	info, err := os.Lstat(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, false, errors.NewNotFound(id + "/" + rel)
		}
		return nil, false, errors.NewInternal(err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, errors.NewInvalidRequest(fmt.Sprintf("not a regular file: %s", rel))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	defer f.Close()

	if limit <= 0 {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, false, errors.NewInternal(err)
		}
		return data, false, nil
	}

	data, err = io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// Path returns the directory of a published folder.
func (s *Store) Path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, id)
	info, err := os.Lstat(dir)
	if err != nil || !info.IsDir() {
		return "", errors.NewNotFound(id)
	}
	return dir, nil
}

// Exists reports whether id names a published folder.
func (s *Store) Exists(id string) bool {
	_, err := s.Path(id)
	return err == nil
}

// PublishedIDs lists published folder ids on disk, in id order.
func (s *Store) PublishedIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateID(e.Name()) != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	slices.Sort(ids)
	return ids, nil
}

// Delete removes a published folder and its index row. Deletion is an operator
// action; nothing on the chaining path calls it.
func (s *Store) Delete(ctx context.Context, id string) error {
	dir, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.NewInternal(err)
	}
	if s.db != nil {
		if err := db.Delete(ctx, s.db, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Reindex rebuilds the index from the manifests on disk. Rows whose folder no
// longer exists are removed. Returns the number of folders indexed.
func (s *Store) Reindex(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errors.NewInvalidRequest("store has no index")
	}
	ids, err := s.PublishedIDs()
	if err != nil {
		return 0, err
	}

	onDisk := make(map[string]bool, len(ids))
	count := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return count, errors.NewCancelled("reindex")
		}
		m, err := readManifest(filepath.Join(s.dir, id))
		if err != nil {
			// A folder without a readable manifest is not a published folder.
			continue
		}
		onDisk[id] = true
		if err := db.Upsert(ctx, s.db, m.Summary()); err != nil {
			return count, err
		}
		count++
	}

	indexed, err := db.ListIDs(ctx, s.db)
	if err != nil {
		return count, err
	}
	for _, id := range indexed {
		if !onDisk[id] {
			if err := db.Delete(ctx, s.db, id); err != nil && !errors.Is(err, errors.ErrNotFound) {
				return count, err
			}
		}
	}
	return count, nil
}

// CleanStaging removes staging directories older than cutoff that this
// process is not using. They are left behind only by a crash mid-invocation.
func (s *Store) CleanStaging(cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.staging)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	var removed []string
	for _, e := range entries {
		id := e.Name()
		s.mu.Lock()
		_, active := s.pending[id]
		s.mu.Unlock()
		if active {
			continue
		}
		created, ok := IDTime(id)
		if !ok || !created.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.staging, id)); err != nil {
			return removed, errors.NewInternal(err)
		}
		removed = append(removed, id)
	}
	return removed, nil
}
