package ops

import (
	"context"

	"github.com/hpungsan/baton/internal/db"
	"github.com/hpungsan/baton/internal/store"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status     string // optional filter
	PreviousID string // optional: only folders chained from this one
	Limit      int    // default: 20, max: 100
	Offset     int    // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []db.Folder `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Sort       string      `json:"sort"`
}

// List retrieves folder summaries with pagination, newest first.
func List(ctx context.Context, s *store.Store, input ListInput) (*ListOutput, error) {
	status, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	if input.PreviousID != "" {
		if err := store.ValidateID(input.PreviousID); err != nil {
			return nil, err
		}
	}

	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	// Ensure offset is non-negative
	offset := max(input.Offset, 0)

	items, total, err := queryFolders(ctx, s, db.ListFilter{
		Status:     string(status),
		PreviousID: input.PreviousID,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if items == nil {
		items = []db.Folder{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}
