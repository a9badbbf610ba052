package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/baton/internal/errors"
	"github.com/hpungsan/baton/internal/store"
)

// PruneInput contains parameters for the Prune operation.
type PruneInput struct {
	OlderThanDays int    // required, >= 1
	Status        string // optional filter
	DryRun        bool
	Now           time.Time // zero means time.Now
}

// PruneOutput contains the result of the Prune operation.
type PruneOutput struct {
	Pruned         int      `json:"pruned"`
	IDs            []string `json:"ids"`
	StagingRemoved int      `json:"staging_removed"`
	DryRun         bool     `json:"dry_run"`
	Message        string   `json:"message"`
}

// Prune permanently deletes folders created more than OlderThanDays ago, and
// clears staging directories abandoned by crashed invocations.
func Prune(ctx context.Context, s *store.Store, input PruneInput) (*PruneOutput, error) {
	if input.OlderThanDays < 1 {
		return nil, errors.NewInvalidRequest("older_than_days must be at least 1")
	}
	status, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}

	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-time.Duration(input.OlderThanDays) * 24 * time.Hour)

	ids, err := s.PublishedIDs()
	if err != nil {
		return nil, err
	}

	out := &PruneOutput{IDs: []string{}, DryRun: input.DryRun}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("prune")
		}
		created, ok := store.IDTime(id)
		if !ok || !created.Before(cutoff) {
			continue
		}
		if status != "" {
			m, _, err := s.Read(ctx, id)
			if err != nil || m.Status != status {
				continue
			}
		}
		if !input.DryRun {
			if err := s.Delete(ctx, id); err != nil {
				return nil, err
			}
		}
		out.IDs = append(out.IDs, id)
	}
	out.Pruned = len(out.IDs)

	if !input.DryRun {
		removed, err := s.CleanStaging(cutoff)
		if err != nil {
			return nil, err
		}
		out.StagingRemoved = len(removed)
	}

	out.Message = formatPruneMessage(out.Pruned, input.OlderThanDays, input.DryRun)
	return out, nil
}

// formatPruneMessage creates a human-readable message for the prune result.
func formatPruneMessage(count, olderThanDays int, dryRun bool) string {
	if count == 0 {
		return fmt.Sprintf("No folders older than %d days", olderThanDays)
	}

	folderWord := "folder"
	if count > 1 {
		folderWord = "folders"
	}

	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	return fmt.Sprintf("%s %d %s (created more than %d days ago)", verb, count, folderWord, olderThanDays)
}
