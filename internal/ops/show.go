package ops

import (
	"context"

	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// ShowInput contains parameters for the Show operation.
type ShowInput struct {
	ID              string
	IncludeResponse bool // include the raw assistant output, if recorded
}

// ShowOutput contains the result of the Show operation.
type ShowOutput struct {
	Manifest          *store.Manifest `json:"manifest"`
	Path              string          `json:"path"`
	Response          string          `json:"response,omitempty"`
	ResponseTruncated bool            `json:"response_truncated,omitempty"`
}

// Show returns a folder's manifest and location.
func Show(ctx context.Context, s *store.Store, input ShowInput) (*ShowOutput, error) {
	m, _, err := s.Read(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	path, err := s.Path(input.ID)
	if err != nil {
		return nil, err
	}

	out := &ShowOutput{Manifest: m, Path: path}
	if input.IncludeResponse {
		data, truncated, err := s.ReadFile(ctx, input.ID, store.ResponseName, DefaultReadLimit)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		out.Response = string(data)
		out.ResponseTruncated = truncated
	}
	return out, nil
}
