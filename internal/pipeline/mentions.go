package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"dredge/pkg/errors"
	"dredge/pkg/models"
)

// MentionsStage estimates public attention per fingerprinted file by
// querying the configured mention sources. Each item's partial result is
// flushed to the store and checkpointed immediately, so a rate-limit
// stall or a kill mid-stage loses at most the item in flight.
type MentionsStage struct {
	deps Deps
}

func NewMentionsStage(d Deps) *MentionsStage {
	return &MentionsStage{deps: d}
}

func (s *MentionsStage) Name() string { return StageMentions }

func (s *MentionsStage) Run(ctx context.Context, t *Tracker) error {
	if s.deps.Attention == nil || !s.deps.Attention.Enabled() {
		s.deps.Logger.Info("No mention sources configured, skipping attention stage")
		return nil
	}

	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return err
	}

	var items []string
	for _, rec := range records {
		if rec.Fingerprinted() && rec.Error == "" {
			items = append(items, rec.ID)
		}
	}

	return runItemLoop(ctx, t, items, s.process)
}

func (s *MentionsStage) process(ctx context.Context, id string) error {
	rec, err := s.deps.Store.GetMedia(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Newf(errors.ErrorTypeCheckpoint, "media record %s vanished", id)
	}

	est, err := s.deps.Attention.Estimate(ctx, rec.Filename)
	if err != nil {
		return err
	}

	meta := map[string]string{
		models.MetaAttentionScore: fmt.Sprintf("%.2f", est.Score),
		models.MetaUnderreported:  strconv.FormatBool(est.Underreported),
	}
	for source, count := range est.Counts {
		meta[models.MetaMentionPrefix+source] = strconv.Itoa(count)
	}

	return s.deps.Store.MergeMetadata(id, meta)
}
