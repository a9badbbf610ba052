package ops

import (
	"context"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/store"
)

// LatestInput contains parameters for the Latest operation.
type LatestInput struct {
	Status          string // optional filter
	IncludeManifest bool   // default: false (summary only)
}

// LatestOutput contains the result of the Latest operation.
type LatestOutput struct {
	Item     *db.Folder      `json:"item"` // nil if the store is empty
	Manifest *store.Manifest `json:"manifest,omitempty"`
}

// Latest retrieves the most recently created folder.
func Latest(ctx context.Context, s *store.Store, input LatestInput) (*LatestOutput, error) {
	status, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}

	items, _, err := queryFolders(ctx, s, db.ListFilter{Status: string(status), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &LatestOutput{Item: nil}, nil
	}

	out := &LatestOutput{Item: &items[0]}
	if input.IncludeManifest {
		m, _, err := s.Read(ctx, items[0].ID)
		if err != nil {
			return nil, err
		}
		out.Manifest = m
	}
	return out, nil
}
