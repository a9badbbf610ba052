package ops

import (
	"context"

	"github.com/hpungsan/baton/internal/store"
)

// ReindexOutput contains the result of the Reindex operation.
type ReindexOutput struct {
	Indexed int `json:"indexed"`
}

// Reindex rebuilds the folder index from the manifests on disk.
func Reindex(ctx context.Context, s *store.Store) (*ReindexOutput, error) {
	n, err := s.Reindex(ctx)
	if err != nil {
		return nil, err
	}
	return &ReindexOutput{Indexed: n}, nil
}
