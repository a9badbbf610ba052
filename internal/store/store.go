// Package store persists invocation results as immutable output folders.
//
// A folder is reserved under a private staging directory, filled exactly once,
// then published by a single atomic rename. Readers only ever see published
// folders, so a folder is either absent or complete.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
)

const (
	stagingDirName       = ".staging"
	DefaultIDRetryBudget = 5
)

// Store manages output folders under one root directory.
type Store struct {
	dir     string
	staging string
	db      *sql.DB

	newID       IDGenerator
	retryBudget int
	now         func() time.Time

	mu      sync.Mutex
	pending map[string]*pending
}

type pending struct {
	createdAt  time.Time
	written    bool
	finalizing bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the ULID generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithRetryBudget sets how many ids Create tries before giving up.
func WithRetryBudget(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retryBudget = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open prepares dir for use as an output store. database may be nil, in which
// case folders are published without an index row.
func Open(dir string, database *sql.DB, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.NewInvalidRequest("output directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	s := &Store{
		dir:         abs,
		staging:     filepath.Join(abs, stagingDirName),
		db:          database,
		newID:       newULIDSource().next,
		retryBudget: DefaultIDRetryBudget,
		now:         time.Now,
		pending:     make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.staging, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create output directory: %w", err))
	}
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// DB returns the index database, or nil.
func (s *Store) DB() *sql.DB { return s.db }

// Create reserves a new folder and returns its id. The reservation is a
// private staging directory; nothing is visible to readers until Finalize.
func (s *Store) Create(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= s.retryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", errors.NewCancelled("create folder")
		}

		id, err := s.newID()
		if err != nil {
			return "", errors.NewInternal(fmt.Errorf("generate folder id: %w", err))
		}
		if err := ValidateID(id); err != nil {
			return "", errors.NewInternal(fmt.Errorf("generated folder id %q: %w", id, err))
		}

		stagingPath := filepath.Join(s.staging, id)
		if err := os.Mkdir(stagingPath, 0700); err != nil {
			if stderrors.Is(err, fs.ErrExist) {
				continue
			}
			return "", errors.NewInternal(fmt.Errorf("reserve folder: %w", err))
		}

		// A published folder with this id means the generator repeated itself.
		if _, err := os.Lstat(filepath.Join(s.dir, id)); err == nil {
			_ = os.Remove(stagingPath)
			continue
		}

		s.mu.Lock()
		s.pending[id] = &pending{createdAt: s.now().UTC()}
		s.mu.Unlock()
		return id, nil
	}
	return "", errors.NewStoreCollision(s.retryBudget)
}

// WorkDir returns the staging directory of a pending folder. The assistant
// runs with this as its working directory.
func (s *Store) WorkDir(id string) (string, error) {
	s.mu.Lock()
	_, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return "", s.notPending(id)
	}
	return filepath.Join(s.staging, id), nil
}

// WriteFiles writes produced files into a pending folder. It may be called
// once per folder; later calls, and calls after Finalize, are WRITE_ONCE errors.
func (s *Store) WriteFiles(ctx context.Context, id string, files []File) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return s.notPending(id)
	}
	if p.written || p.finalizing {
		s.mu.Unlock()
		return errors.NewWriteOnce(id)
	}
	p.written = true
	s.mu.Unlock()

	root := filepath.Join(s.staging, id)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelled("write files")
		}
		rel, err := cleanRelPath(f.Path)
		if err != nil {
			return err
		}
		if rel == ManifestName {
			return errors.NewInvalidRequest("file path is reserved: " + ManifestName)
		}
		if err := checkNoSymlinks(root, rel); err != nil {
			return err
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
			return errors.NewInternal(err)
		}
		if err := os.WriteFile(target, f.Data, 0600); err != nil {
			return errors.NewInternal(fmt.Errorf("write %s: %w", rel, err))
		}
	}
	return nil
}

// Finalize records the file list, writes the manifest and publishes the folder.
// m supplies the descriptive fields; ID, Files, TotalBytes and SchemaVersion are
// filled in here. A folder can be finalized once.
func (s *Store) Finalize(ctx context.Context, id string, m Manifest) (*Manifest, error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return nil, s.notPending(id)
	}
	if p.finalizing {
		s.mu.Unlock()
		return nil, errors.NewWriteOnce(id)
	}
	p.finalizing = true
	s.mu.Unlock()

	published := false
	defer func() {
		s.mu.Lock()
		if published {
			delete(s.pending, id)
		} else {
			p.finalizing = false
		}
		s.mu.Unlock()
	}()

	if !m.Status.Valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid folder status %q", m.Status))
	}

	stagingPath := filepath.Join(s.staging, id)
	files, total, err := scanFiles(stagingPath)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("scan folder: %w", err))
	}

	m.SchemaVersion = SchemaVersion
	m.ID = id
	m.Files = files
	m.TotalBytes = total
	if m.CreatedAt.IsZero() {
		m.CreatedAt = p.createdAt
	}
	if m.FinishedAt.IsZero() {
		m.FinishedAt = s.now().UTC()
	}

	if err := writeManifest(stagingPath, &m); err != nil {
		return nil, errors.NewInternal(err)
	}

	finalPath := filepath.Join(s.dir, id)
	if err := os.Rename(stagingPath, finalPath); err != nil {
		if _, statErr := os.Lstat(finalPath); statErr == nil {
			return nil, errors.NewStoreCollision(1)
		}
		return nil, errors.NewInternal(fmt.Errorf("publish folder: %w", err))
	}
	published = true
	syncDir(s.dir)

	if s.db != nil {
		if err := db.Insert(context.WithoutCancel(ctx), s.db, m.Summary()); err != nil {
			return &m, fmt.Errorf("index folder %s: %w", id, err)
		}
	}
	return &m, nil
}

// Abandon discards a pending folder without publishing it.
func (s *Store) Abandon(id string) error {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok && !p.finalizing {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return s.notPending(id)
	}
	if p.finalizing {
		return errors.NewWriteOnce(id)
	}
	return os.RemoveAll(filepath.Join(s.staging, id))
}

// notPending distinguishes a published folder (WRITE_ONCE) from an unknown id.
func (s *Store) notPending(id string) error {
	if ValidateID(id) == nil {
		if _, err := os.Lstat(filepath.Join(s.dir, id)); err == nil {
			return errors.NewWriteOnce(id)
		}
	}
	return errors.NewNotFound(id)
}

// scanFiles lists regular files under root, excluding baton's own files.
func scanFiles(root string) ([]FileInfo, int64, error) {
	files := []FileInfo{}
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isInternal(rel) || strings.HasPrefix(filepath.Base(rel), ".manifest-") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: rel, Size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(files, func(a, b FileInfo) int { return strings.Compare(a.Path, b.Path) })
	return files, total, nil
}

// syncDir fsyncs a directory so a rename inside it is durable. Best-effort.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}

// Summary returns the index row for m.
func (m *Manifest) Summary() *db.Folder {
	return &db.Folder{
		ID:         m.ID,
		Status:     string(m.Status),
		Command:    m.Command,
		Model:      m.Model,
		SessionID:  m.SessionID,
		PreviousID: m.PreviousID,
		FileCount:  len(m.Files),
		TotalBytes: m.TotalBytes,
		Turns:      m.Turns,
		DurationMS: m.DurationMS,
		CreatedAt:  m.CreatedAt.Unix(),
		FinishedAt: m.FinishedAt.Unix(),
	}
}
