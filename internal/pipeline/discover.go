package pipeline

import (
	"context"

	"dredge/pkg/listing"
	"dredge/pkg/models"
)

// DiscoverStage fetches the remote listing and seeds the manifest. The
// listing itself is the stage's single checkpointed item, so a resumed
// run that already discovered skips the fetch entirely.
type DiscoverStage struct {
	deps   Deps
	source *listing.Source
}

func NewDiscoverStage(d Deps) *DiscoverStage {
	return &DiscoverStage{
		deps:   d,
		source: listing.NewSource(d.Config.Listing, d.Fetch, d.Logger),
	}
}

func (s *DiscoverStage) Name() string { return StageDiscover }

func (s *DiscoverStage) Run(ctx context.Context, t *Tracker) error {
	itemID := "listing-" + models.DeriveID(s.deps.Config.Listing.URL)

	return runItemLoop(ctx, t, []string{itemID}, func(ctx context.Context, _ string) error {
		records, err := s.source.Discover(ctx)
		if err != nil {
			return err
		}
		for i := range records {
			if err := s.deps.Store.UpsertMedia(&records[i]); err != nil {
				return err
			}
		}
		s.deps.Logger.WithField("records", len(records)).Info("Manifest seeded")
		return nil
	})
}
