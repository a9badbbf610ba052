package ops

import (
	"context"
	"fmt"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// LineageInput contains parameters for the Lineage operation.
type LineageInput struct {
	ID       string
	MaxDepth int // default: 50, max: 500
}

// LineageOutput contains the result of the Lineage operation.
type LineageOutput struct {
	// Items starts at the requested folder and follows previous_id back toward the first step.
	Items []db.Folder `json:"items"`
	// MissingID is set when the chain refers to a folder that no longer exists.
	MissingID string `json:"missing_id,omitempty"`
	Truncated bool   `json:"truncated"`
}

// Lineage walks the previous_id chain of a folder.
func Lineage(ctx context.Context, s *store.Store, input LineageInput) (*LineageOutput, error) {
	depth := input.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	if depth > MaxMaxDepth {
		depth = MaxMaxDepth
	}

	out := &LineageOutput{Items: []db.Folder{}}
	seen := make(map[string]bool)

	id := input.ID
	for id != "" {
		if len(out.Items) == depth {
			out.Truncated = true
			break
		}
		if seen[id] {
			return nil, errors.NewInternal(fmt.Errorf("folder %s appears twice in its own lineage", id))
		}
		seen[id] = true

		m, _, err := s.Read(ctx, id)
		if err != nil {
			// The requested folder itself must exist; a vanished ancestor ends the walk.
			if errors.Is(err, errors.ErrNotFound) && len(out.Items) > 0 {
				out.MissingID = id
				break
			}
			return nil, err
		}
		out.Items = append(out.Items, *m.Summary())
		id = m.PreviousID
	}
	return out, nil
}
