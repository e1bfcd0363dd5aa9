package pipeline

import (
	"context"
	"strconv"

	"dredge/pkg/errors"
	"dredge/pkg/fingerprint"
	"dredge/pkg/models"
)

// FingerprintStage computes perceptual hashes for downloaded files.
// Hashing is a pure function of the file bytes, so redoing an item after
// a crash recomputes the identical hash. A corrupt file fails only that
// item.
type FingerprintStage struct {
	deps Deps
}

func NewFingerprintStage(d Deps) *FingerprintStage {
	return &FingerprintStage{deps: d}
}

func (s *FingerprintStage) Name() string { return StageFingerprint }

func (s *FingerprintStage) Run(ctx context.Context, t *Tracker) error {
	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return err
	}

	var items []string
	for _, rec := range records {
		if rec.Downloaded() && rec.Error == "" {
			items = append(items, rec.ID)
		}
	}

	return runItemLoop(ctx, t, items, s.process)
}

func (s *FingerprintStage) process(ctx context.Context, id string) error {
	rec, err := s.deps.Store.GetMedia(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Newf(errors.ErrorTypeCheckpoint, "media record %s vanished", id)
	}

	fp, err := fingerprint.FromFile(rec.LocalPath)
	if err != nil {
		return err
	}

	return s.deps.Store.ApplyFingerprint(id, fp.DHash.String(), map[string]string{
		models.MetaWidth:  strconv.Itoa(fp.Width),
		models.MetaHeight: strconv.Itoa(fp.Height),
		models.MetaFormat: fp.Format,
		models.MetaAHash:  fp.AHash.String(),
	})
}
