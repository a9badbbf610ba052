package ops

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/baton/internal/config"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) string {
	return idAt(epoch.Add(-time.Duration(n) * 24 * time.Hour))
}

func TestList_DiskMatchesIndex(t *testing.T) {
	for _, indexed := range []bool{true, false} {
		s := openStore(t, indexed)
		a := seed(t, s, nil, store.Manifest{})
		b := seed(t, s, nil, store.Manifest{PreviousID: a, Status: store.StatusFailed})
		c := seed(t, s, nil, store.Manifest{PreviousID: a})

		out, err := List(context.Background(), s, ListInput{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{c, b}, folderIDs(out.Items), "indexed=%v", indexed)
		assert.Equal(t, Pagination{Limit: 2, Offset: 0, HasMore: true, Total: 3}, out.Pagination)

		out, err = List(context.Background(), s, ListInput{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{a}, folderIDs(out.Items))
		assert.False(t, out.Pagination.HasMore)

		out, err = List(context.Background(), s, ListInput{Status: "failed"})
		require.NoError(t, err)
		assert.Equal(t, []string{b}, folderIDs(out.Items))

		out, err = List(context.Background(), s, ListInput{PreviousID: a})
		require.NoError(t, err)
		assert.Equal(t, []string{c, b}, folderIDs(out.Items))
	}
}

func TestList_LimitBounds(t *testing.T) {
	s := openStore(t, true)

	out, err := List(context.Background(), s, ListInput{Limit: 1000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, out.Pagination.Limit)
	assert.Equal(t, 0, out.Pagination.Offset)
	assert.NotNil(t, out.Items)

	_, err = List(context.Background(), s, ListInput{Status: "done"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestLatest_Empty(t *testing.T) {
	out, err := Latest(context.Background(), openStore(t, true), LatestInput{})
	require.NoError(t, err)
	assert.Nil(t, out.Item)
}

func TestLineage_MissingAncestor(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, true)
	a := seed(t, s, nil, store.Manifest{})
	b := seed(t, s, nil, store.Manifest{PreviousID: a})
	c := seed(t, s, nil, store.Manifest{PreviousID: b})
	require.NoError(t, s.Delete(ctx, a))

	out, err := Lineage(ctx, s, LineageInput{ID: c})
	require.NoError(t, err)
	assert.Equal(t, []string{c, b}, folderIDs(out.Items))
	assert.Equal(t, a, out.MissingID)

	_, err = Lineage(ctx, s, LineageInput{ID: a})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLineage_MaxDepth(t *testing.T) {
	s := openStore(t, false)
	prev := ""
	for range 5 {
		prev = seed(t, s, nil, store.Manifest{PreviousID: prev})
	}

	out, err := Lineage(context.Background(), s, LineageInput{ID: prev, MaxDepth: 3})
	require.NoError(t, err)
	assert.Len(t, out.Items, 3)
	assert.True(t, out.Truncated)
}

func TestPrune_AgeStatusAndDryRun(t *testing.T) {
	ctx := context.Background()
	old, oldFailed, recent := daysAgo(40), daysAgo(35), daysAgo(2)
	s := openStore(t, true, store.WithIDGenerator(idSequence(old, oldFailed, recent)))
	seed(t, s, nil, store.Manifest{})
	seed(t, s, nil, store.Manifest{Status: store.StatusFailed})
	seed(t, s, nil, store.Manifest{})

	out, err := Prune(ctx, s, PruneInput{OlderThanDays: 30, Now: epoch, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{old, oldFailed}, out.IDs)
	assert.Equal(t, "Would delete 2 folders (created more than 30 days ago)", out.Message)
	assert.True(t, s.Exists(old))

	out, err = Prune(ctx, s, PruneInput{OlderThanDays: 30, Now: epoch, Status: "failed"})
	require.NoError(t, err)
	assert.Equal(t, []string{oldFailed}, out.IDs)
	assert.Equal(t, "Deleted 1 folder (created more than 30 days ago)", out.Message)
	assert.False(t, s.Exists(oldFailed))
	assert.True(t, s.Exists(old))
	assert.True(t, s.Exists(recent))

	out, err = Prune(ctx, s, PruneInput{OlderThanDays: 60, Now: epoch})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Pruned)
	assert.Equal(t, "No folders older than 60 days", out.Message)

	_, err = Prune(ctx, s, PruneInput{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestPrune_RemovesAbandonedStaging(t *testing.T) {
	ctx := context.Background()
	stale := daysAgo(10)
	s := openStore(t, true, store.WithIDGenerator(idSequence(stale)))

	_, err := s.Create(ctx)
	require.NoError(t, err)
	// A crashed process leaves the staging dir behind; a new store does not know it.
	s2, err := store.Open(s.Dir(), s.DB())
	require.NoError(t, err)

	out, err := Prune(ctx, s2, PruneInput{OlderThanDays: 5, Now: epoch})
	require.NoError(t, err)
	assert.Equal(t, 1, out.StagingRemoved)
	_, err = os.Stat(filepath.Join(s.Dir(), ".staging", stale))
	assert.True(t, os.IsNotExist(err))
}

func TestExport_WritesManifests(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, false)
	a := seed(t, s, map[string]string{"a.txt": "secret body"}, store.Manifest{Command: "first"})
	seed(t, s, nil, store.Manifest{Status: store.StatusCancelled})

	exportDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{exportDir}
	path := filepath.Join(exportDir, "folders.jsonl")

	out, err := Export(ctx, s, cfg, ExportInput{Path: path, Status: "succeeded"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var header ExportHeader
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &header))
	assert.True(t, header.BatonExport)
	assert.Equal(t, store.SchemaVersion, header.SchemaVersion)

	require.True(t, scanner.Scan())
	var m store.Manifest
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
	assert.Equal(t, a, m.ID)
	assert.Equal(t, "first", m.Command)
	assert.NotContains(t, scanner.Text(), "secret body")
	assert.False(t, scanner.Scan())
}

func TestExport_RejectsUnsafePath(t *testing.T) {
	s := openStore(t, false)
	_, err := Export(context.Background(), s, config.DefaultConfig(), ExportInput{Path: filepath.Join(t.TempDir(), "x.jsonl")})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
