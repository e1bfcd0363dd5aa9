package pipeline

import (
	"context"

	"dredge/pkg/cluster"
	"dredge/pkg/fingerprint"
)

// ClusterStage recomputes the near-duplicate partition over every
// fingerprinted record. The cluster view is derived state: each run
// replaces it wholesale, so it is never checkpointed per item.
type ClusterStage struct {
	deps Deps
}

func NewClusterStage(d Deps) *ClusterStage {
	return &ClusterStage{deps: d}
}

func (s *ClusterStage) Name() string { return StageCluster }

func (s *ClusterStage) Run(ctx context.Context, t *Tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return err
	}

	var members []cluster.Member
	for _, rec := range records {
		// Records without a hash stay unclustered rather than breaking
		// the partition.
		if !rec.Fingerprinted() {
			continue
		}
		hash, err := fingerprint.ParseHash(rec.PerceptualHash)
		if err != nil {
			s.deps.Logger.WithFields(map[string]interface{}{
				"id":   rec.ID,
				"hash": rec.PerceptualHash,
			}).Warn("Unparseable hash, leaving record unclustered")
			continue
		}
		members = append(members, cluster.Member{
			ID:           rec.ID,
			Hash:         hash,
			DiscoveredAt: rec.DiscoveredAt,
		})
	}

	clusters := cluster.Build(members, s.deps.Config.Cluster.HashDistanceThreshold)
	if err := s.deps.Store.ReplaceClusters(clusters); err != nil {
		return err
	}

	duplicates := 0
	for _, c := range clusters {
		if c.Size() > 1 {
			duplicates++
		}
	}
	s.deps.Logger.WithFields(map[string]interface{}{
		"members":          len(members),
		"clusters":         len(clusters),
		"duplicate_groups": duplicates,
		"threshold":        s.deps.Config.Cluster.HashDistanceThreshold,
	}).Info("Duplicate clustering complete")

	t.AddDone(len(clusters))
	return nil
}
