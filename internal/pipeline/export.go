package pipeline

import (
	"context"

	"dredge/pkg/manifest"
	"dredge/pkg/models"
)

// ExportStage renders the store as the CSV interface files: the full
// manifest, the cluster assignments, and the selected candidates. Each
// file is written atomically, so an interrupted export never leaves a
// half-written view behind.
type ExportStage struct {
	deps Deps
}

func NewExportStage(d Deps) *ExportStage {
	return &ExportStage{deps: d}
}

func (s *ExportStage) Name() string { return StageExport }

func (s *ExportStage) Run(ctx context.Context, t *Tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return err
	}
	clusters, err := s.deps.Store.ListClusters()
	if err != nil {
		return err
	}

	var candidates []models.MediaRecord
	for _, rec := range records {
		if rec.Meta(models.MetaCandidate) == "true" {
			candidates = append(candidates, rec)
		}
	}

	paths := &s.deps.Config.Pipeline
	if err := manifest.WriteManifest(paths.ManifestPath(), records); err != nil {
		return err
	}
	if err := manifest.WriteClusters(paths.ClustersPath(), clusters); err != nil {
		return err
	}
	if err := manifest.WriteCandidates(paths.CandidatesPath(), candidates); err != nil {
		return err
	}

	s.deps.Logger.WithFields(map[string]interface{}{
		"manifest":   paths.ManifestPath(),
		"records":    len(records),
		"clusters":   len(clusters),
		"candidates": len(candidates),
	}).Info("CSV views exported")

	t.AddDone(len(records))
	return nil
}
