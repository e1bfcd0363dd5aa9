package pipeline

import (
	"context"
	"strconv"

	"dredge/pkg/models"
)

// SelectStage flags the candidate records downstream review should look
// at: cluster representatives (the distinctive files) that are also
// under-discussed. When no mention sources are configured every
// representative is a candidate. The flag is derived and rewritten for
// every fingerprinted record on each run.
type SelectStage struct {
	deps Deps
}

func NewSelectStage(d Deps) *SelectStage {
	return &SelectStage{deps: d}
}

func (s *SelectStage) Name() string { return StageSelect }

func (s *SelectStage) Run(ctx context.Context, t *Tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clusters, err := s.deps.Store.ListClusters()
	if err != nil {
		return err
	}
	representatives := make(map[string]bool, len(clusters))
	for _, c := range clusters {
		representatives[c.RepresentativeID] = true
	}

	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return err
	}

	attentionKnown := s.deps.Attention != nil && s.deps.Attention.Enabled()
	candidates := 0
	for _, rec := range records {
		if !rec.Fingerprinted() {
			continue
		}

		candidate := representatives[rec.ID]
		if candidate && attentionKnown {
			candidate = rec.Meta(models.MetaUnderreported) == "true"
		}
		if candidate {
			candidates++
		}

		err := s.deps.Store.MergeMetadata(rec.ID, map[string]string{
			models.MetaCandidate: strconv.FormatBool(candidate),
		})
		if err != nil {
			return err
		}
	}

	s.deps.Logger.WithFields(map[string]interface{}{
		"candidates":      candidates,
		"representatives": len(representatives),
	}).Info("Candidate selection complete")

	t.AddDone(candidates)
	return nil
}
