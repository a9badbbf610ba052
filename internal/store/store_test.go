package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
)

// testID returns a deterministic, valid ULID.
func testID(n int) string {
	return ulid.MustNew(uint64(1_700_000_000_000+n), bytes.NewReader(make([]byte, 10))).String()
}

// sequence returns a generator that yields ids in order, repeating the last one.
func sequence(ids ...string) IDGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[min(i, len(ids)-1)]
		i++
		return id, nil
	}
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s, err := Open(filepath.Join(base, "outputs"), database, opts...)
	require.NoError(t, err)
	return s
}

func publish(t *testing.T, s *Store, files []File, m Manifest) *Manifest {
	t.Helper()
	ctx := context.Background()
	id, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteFiles(ctx, id, files))
	if m.Status == "" {
		m.Status = StatusSucceeded
	}
	out, err := s.Finalize(ctx, id, m)
	require.NoError(t, err)
	return out
}

func TestStore_CreateWriteFinalizeRead(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, ValidateID(id))

	// Pending folders are invisible to readers.
	_, _, err = s.Read(ctx, id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	work, err := s.WorkDir(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(work, "by-assistant.md"), []byte("# hi"), 0600))

	require.NoError(t, s.WriteFiles(ctx, id, []File{
		{Path: "haiku.txt", Data: []byte("old pond")},
		{Path: "nested/dir/notes.md", Data: []byte("frog")},
		{Path: ResponseName, Data: []byte("raw response")},
	}))

	m, err := s.Finalize(ctx, id, Manifest{
		Status:   StatusSucceeded,
		Command:  "write a haiku",
		Model:    "sonnet",
		MaxTurns: 4,
		Turns:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, SchemaVersion, m.SchemaVersion)
	assert.Equal(t, []FileInfo{
		{Path: "by-assistant.md", Size: 4},
		{Path: "haiku.txt", Size: 8},
		{Path: "nested/dir/notes.md", Size: 4},
	}, m.Files)
	assert.Equal(t, int64(16), m.TotalBytes)
	assert.False(t, m.CreatedAt.IsZero())
	assert.False(t, m.FinishedAt.Before(m.CreatedAt))

	read, files, err := s.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, m.Files, files)
	assert.Equal(t, "write a haiku", read.Command)
	assert.Equal(t, StatusSucceeded, read.Status)

	data, truncated, err := s.ReadFile(ctx, id, "nested/dir/notes.md", 0)
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, "frog", string(data))

	resp, _, err := s.ReadFile(ctx, id, ResponseName, 0)
	require.NoError(t, err)
	assert.Equal(t, "raw response", string(resp))

	row, err := db.GetByID(ctx, s.DB(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, row.FileCount)
	assert.Equal(t, "succeeded", row.Status)

	_, err = os.Stat(filepath.Join(s.Dir(), stagingDirName, id))
	assert.True(t, os.IsNotExist(err), "staging dir must be gone after publish")
}

func TestStore_WriteOnce(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.WriteFiles(ctx, id, []File{{Path: "a.txt", Data: []byte("a")}}))

	err = s.WriteFiles(ctx, id, []File{{Path: "b.txt", Data: []byte("b")}})
	assert.True(t, errors.Is(err, errors.ErrWriteOnce), "second write: %v", err)

	_, err = s.Finalize(ctx, id, Manifest{Status: StatusSucceeded})
	require.NoError(t, err)

	err = s.WriteFiles(ctx, id, []File{{Path: "c.txt", Data: []byte("c")}})
	assert.True(t, errors.Is(err, errors.ErrWriteOnce), "write after finalize: %v", err)

	_, err = s.Finalize(ctx, id, Manifest{Status: StatusFailed})
	assert.True(t, errors.Is(err, errors.ErrWriteOnce), "second finalize: %v", err)

	m, _, err := s.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, m.Status)
}

func TestStore_FinalizeWithoutWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx)
	require.NoError(t, err)

	m, err := s.Finalize(ctx, id, Manifest{Status: StatusFailed, Error: &ErrorInfo{Code: "ASSISTANT", Message: "boom"}})
	require.NoError(t, err)
	assert.Empty(t, m.Files)
	assert.Equal(t, "boom", m.Error.Message)
}

func TestStore_FinalizeInvalidStatusKeepsPending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = s.Finalize(ctx, id, Manifest{Status: "bogus"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = s.Finalize(ctx, id, Manifest{Status: StatusCancelled})
	assert.NoError(t, err)
}

func TestStore_WriteFilesRejectsBadPaths(t *testing.T) {
	ctx := context.Background()
	for _, bad := range []string{"", "/etc/passwd", "../escape", "a/../../b", ManifestName} {
		t.Run(bad, func(t *testing.T) {
			s := openTestStore(t)
			id, err := s.Create(ctx)
			require.NoError(t, err)

			err = s.WriteFiles(ctx, id, []File{{Path: bad, Data: []byte("x")}})
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "path %q: %v", bad, err)
		})
	}
}

func TestStore_UnknownIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	unknown := testID(42)
	_, err := s.WorkDir(unknown)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.True(t, errors.Is(s.WriteFiles(ctx, unknown, nil), errors.ErrNotFound))

	_, _, err = s.Read(ctx, "../../etc")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, _, err = s.Read(ctx, unknown)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStore_CollisionRetriesWithFreshID(t *testing.T) {
	ctx := context.Background()
	taken, fresh := testID(1), testID(2)

	s := openTestStore(t, WithIDGenerator(sequence(taken, taken, fresh)))

	first, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, taken, first)

	// taken is still staged, so the next Create must skip it
	second, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, second)
}

func TestStore_CollisionWithPublishedFolder(t *testing.T) {
	ctx := context.Background()
	dup, fresh := testID(1), testID(2)

	s := openTestStore(t, WithIDGenerator(sequence(dup, dup, fresh)))
	publish(t, s, nil, Manifest{Command: "first"})

	id, err := s.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh, id)

	m, _, err := s.Read(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Command, "published folder must be untouched")
}

func TestStore_CollisionBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	dup := testID(7)

	s := openTestStore(t, WithIDGenerator(sequence(dup)), WithRetryBudget(3))
	_, err := s.Create(ctx)
	require.NoError(t, err)

	_, err = s.Create(ctx)
	require.True(t, errors.Is(err, errors.ErrStoreCollision), "got %v", err)
	assert.Equal(t, 3, err.(*errors.BatonError).Details["attempts"])
}

func TestStore_CreateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openTestStore(t).Create(ctx)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
}

func TestStore_ConcurrentCreatesAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const n = 150
	ids := make([]string, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			id, err := s.Create(gctx)
			if err != nil {
				return err
			}
			if err := s.WriteFiles(gctx, id, []File{{Path: "out.txt", Data: []byte(fmt.Sprint(i))}}); err != nil {
				return err
			}
			if _, err := s.Finalize(gctx, id, Manifest{Status: StatusSucceeded}); err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	published, err := s.PublishedIDs()
	require.NoError(t, err)
	assert.Len(t, published, n)
}

func TestStore_ReadFileLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := publish(t, s, []File{{Path: "big.txt", Data: bytes.Repeat([]byte("x"), 100)}}, Manifest{})

	data, truncated, err := s.ReadFile(ctx, m.ID, "big.txt", 10)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, data, 10)

	_, _, err = s.ReadFile(ctx, m.ID, "missing.txt", 0)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, _, err = s.ReadFile(ctx, m.ID, "../x", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestStore_SymlinkedDirsAreNotFollowed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated privileges on windows")
	}
	ctx := context.Background()
	s := openTestStore(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("TOP SECRET"), 0600))

	id, err := s.Create(ctx)
	require.NoError(t, err)
	work, err := s.WorkDir(id)
	require.NoError(t, err)
	require.NoError(t, os.Symlink(outside, filepath.Join(work, "link")))

	err = s.WriteFiles(ctx, id, []File{{Path: "link/planted.txt", Data: []byte("x")}})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "write through symlink: %v", err)
	_, statErr := os.Stat(filepath.Join(outside, "planted.txt"))
	assert.True(t, os.IsNotExist(statErr), "nothing may be written outside the folder")

	m, err := s.Finalize(ctx, id, Manifest{Status: StatusSucceeded, Command: "step"})
	require.NoError(t, err)

	data, _, err := s.ReadFile(ctx, m.ID, "link/secret.txt", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "read through symlink: %v", err)
	assert.Nil(t, data)

	_, _, err = s.ReadFile(ctx, m.ID, "link", 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "symlink itself: %v", err)
}

func TestStore_DeleteAndReindex(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	a := publish(t, s, nil, Manifest{Command: "a"})
	b := publish(t, s, nil, Manifest{Command: "b"})

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.False(t, s.Exists(a.ID))
	_, err := db.GetByID(ctx, s.DB(), a.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	// Drop the index row for b and add a stale row; Reindex repairs both.
	require.NoError(t, db.Delete(ctx, s.DB(), b.ID))
	require.NoError(t, db.Insert(ctx, s.DB(), &db.Folder{ID: testID(99), Status: "succeeded", Command: "ghost"}))

	n, err := s.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := db.ListIDs(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids)
}

func TestStore_CleanStaging(t *testing.T) {
	ctx := context.Background()
	abandoned := testID(1)
	active := testID(2)

	s := openTestStore(t, WithIDGenerator(sequence(active)))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), stagingDirName, abandoned), 0700))

	_, err := s.Create(ctx)
	require.NoError(t, err)

	removed, err := s.CleanStaging(time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{abandoned}, removed)

	_, err = s.WorkDir(active)
	assert.NoError(t, err, "active staging dir must survive")
}

func TestStore_Abandon(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Abandon(id))

	_, err = s.WorkDir(id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.False(t, s.Exists(id))
}

func TestStore_WithoutIndex(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	m := publish(t, s, []File{{Path: "a.txt", Data: []byte("a")}}, Manifest{})
	assert.True(t, s.Exists(m.ID))

	_, err = s.Reindex(ctx)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID(testID(0)))
	for _, bad := range []string{"", "abc", "../01ARZ3NDEKTSV4RRFFQ69G5FAV", "01arz3ndektsv4rrffq69g5fav", "81ARZ3NDEKTSV4RRFFQ69G5FAV"} {
		assert.Error(t, ValidateID(bad), bad)
	}
}
