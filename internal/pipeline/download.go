package pipeline

import (
	"context"

	"dredge/pkg/config"
	"dredge/pkg/models"

	"dredge/internal/downloader"
)

// DownloadStage materializes remote files into the local blob store
// using a bounded worker pool, up to the configured download cap.
// Checkpoint and manifest writes all happen on this goroutine; the
// workers only fetch and write blobs.
type DownloadStage struct {
	deps Deps
}

func NewDownloadStage(d Deps) *DownloadStage {
	return &DownloadStage{deps: d}
}

func (s *DownloadStage) Name() string { return StageDownload }

func (s *DownloadStage) Run(ctx context.Context, t *Tracker) error {
	for {
		records, err := s.pending(t)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return ctx.Err()
		}

		// Every queued item is durably in_progress before the first
		// byte moves, and on a single writer goroutine.
		for _, rec := range records {
			if err := t.Begin(rec.ID); err != nil {
				return err
			}
		}

		if err := s.runPool(ctx, t, records); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// pending returns the records still needing a download this pass:
// the first max_download_count healthy records in discovery order,
// minus those already done or out of attempts.
func (s *DownloadStage) pending(t *Tracker) ([]models.MediaRecord, error) {
	records, err := s.deps.Store.ListMedia()
	if err != nil {
		return nil, err
	}

	max := s.deps.Config.Download.MaxDownloadCount
	var out []models.MediaRecord
	capped := 0
	for _, rec := range records {
		if rec.Error != "" {
			continue
		}
		if max > 0 && capped >= max {
			break
		}
		capped++

		ok, err := t.ShouldProcess(rec.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// runPool pushes one batch through the worker pool and applies results.
func (s *DownloadStage) runPool(ctx context.Context, t *Tracker, records []models.MediaRecord) error {
	pool := downloader.NewWorkerPool(
		s.deps.Config.Download.ConcurrentDownloads,
		s.deps.MediaFetch,
		s.deps.Blobs,
		config.DefaultMediaKey,
		s.deps.Logger,
	)
	pool.Start(ctx)

	go func() {
		for _, rec := range records {
			if err := pool.Submit(ctx, downloader.Job{Record: rec}); err != nil {
				break
			}
		}
		pool.Close()
	}()

	bar := newProgressBar(t.stageID, len(records))
	defer finishBar(bar)

	for res := range pool.Results() {
		if res.Err != nil && ctx.Err() != nil {
			// Interrupted mid-download: leave the item in_progress so
			// the next run retries it without charging an attempt.
			return ctx.Err()
		}
		if res.Err == nil {
			// The blob is on disk before the manifest row and the
			// checkpoint claim it, in that order.
			if err := s.deps.Store.ApplyDownload(res.ID, res.LocalPath, res.SizeBytes, res.ContentType); err != nil {
				return err
			}
		}
		if err := t.Finish(res.ID, res.Err); err != nil {
			return err
		}
		if res.Err == nil {
			barAdd(bar)
		}
	}
	return nil
}
