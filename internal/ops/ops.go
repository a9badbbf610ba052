// Package ops implements the read-only inspection operations over output
// folders, plus the operator maintenance operations (prune, reindex, export).
// Nothing in this package is on the chaining path.
package ops

import (
	"context"
	"fmt"
	"slices"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	DefaultMaxFiles  = 10
	MaxMaxFiles      = 100
	DefaultMaxDepth  = 50
	MaxMaxDepth      = 500
)

// DefaultReadLimit bounds file bodies returned by Files and Show.
const DefaultReadLimit = 1 << 20

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// parseStatus validates an optional status filter.
func parseStatus(s string) (store.Status, error) {
	if s == "" {
		return "", nil
	}
	st := store.Status(s)
	if !st.Valid() {
		return "", errors.NewInvalidRequest(fmt.Sprintf("unknown status %q (known: succeeded, failed, turn_limit, cancelled)", s))
	}
	return st, nil
}

// queryFolders lists folders through the index, or by scanning the store
// directory when the store has no index. Results are newest first.
func queryFolders(ctx context.Context, s *store.Store, filter db.ListFilter) ([]db.Folder, int, error) {
	if s.DB() != nil {
		return db.List(ctx, s.DB(), filter)
	}

	ids, err := s.PublishedIDs()
	if err != nil {
		return nil, 0, err
	}
	slices.Reverse(ids)

	var matched []db.Folder
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, 0, errors.NewCancelled("list folders")
		}
		m, _, err := s.Read(ctx, id)
		if err != nil {
			// Unreadable folders are skipped the same way Reindex skips them.
			continue
		}
		if filter.Status != "" && string(m.Status) != filter.Status {
			continue
		}
		if filter.PreviousID != "" && m.PreviousID != filter.PreviousID {
			continue
		}
		matched = append(matched, *m.Summary())
	}

	total := len(matched)
	if filter.Limit <= 0 {
		return matched, total, nil
	}
	start := min(max(filter.Offset, 0), total)
	end := min(start+filter.Limit, total)
	return matched[start:end], total, nil
}
