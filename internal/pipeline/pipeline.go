// Package pipeline sequences the stages that turn a remote listing into
// scored, clustered media: discover, download, fingerprint, mentions,
// cluster, select, export. The orchestrator consults per-item
// checkpoints before any work, so a rerun after a crash resumes from
// the first unfinished item with nothing redone and nothing recounted.
package pipeline

import (
	"context"

	"dredge/pkg/attention"
	"dredge/pkg/config"
	"dredge/pkg/fetch"
	"dredge/pkg/logger"
	"dredge/pkg/storage"

	"dredge/internal/store"
)

// Stage ids, in execution order.
const (
	StageDiscover    = "discover"
	StageDownload    = "download"
	StageFingerprint = "fingerprint"
	StageMentions    = "mentions"
	StageCluster     = "cluster"
	StageSelect      = "select"
	StageExport      = "export"
)

// StageNames returns the stage ids in execution order.
func StageNames() []string {
	return []string{
		StageDiscover, StageDownload, StageFingerprint,
		StageMentions, StageCluster, StageSelect, StageExport,
	}
}

// Stage is one pipeline step. Run does the stage's work, recording
// per-item outcomes through the tracker; a returned error is stage-fatal
// and aborts the run (item-level failures are reported via the tracker
// instead, and never abort a stage).
type Stage interface {
	Name() string
	Run(ctx context.Context, t *Tracker) error
}

// Deps carries the shared collaborators stages are built from.
type Deps struct {
	Config *config.Config
	Store  *store.Store
	// Fetch is the general client for listing and mention queries.
	Fetch *fetch.Client
	// MediaFetch is the client used for media downloads; it shares the
	// limiter with Fetch but carries the download timeout.
	MediaFetch *fetch.Client
	Blobs      *storage.Manager
	Attention  *attention.Estimator
	Logger     logger.Logger
}

// DefaultStages builds the standard stage sequence.
func DefaultStages(d Deps) []Stage {
	return []Stage{
		NewDiscoverStage(d),
		NewDownloadStage(d),
		NewFingerprintStage(d),
		NewMentionsStage(d),
		NewClusterStage(d),
		NewSelectStage(d),
		NewExportStage(d),
	}
}
