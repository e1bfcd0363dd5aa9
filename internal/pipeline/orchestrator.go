package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"dredge/pkg/config"
	"dredge/pkg/logger"
	"dredge/pkg/models"

	"dredge/internal/store"
)

// Orchestrator drives the stages in dependency order. It is restart
// safe: invoking Run again after a crash resumes from the first
// non-done item of the first incomplete stage.
type Orchestrator struct {
	cfg    *config.Config
	store  *store.Store
	stages []Stage
	logger logger.Logger
}

// New creates an orchestrator over the given stage sequence.
func New(cfg *config.Config, st *store.Store, stages []Stage, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		stages: stages,
		logger: log,
	}
}

// Run executes every stage to completion or to the first stage-level
// error. The returned summary always describes what happened, including
// on failure; the error is non-nil only when a stage aborted.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusOK,
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id": summary.RunID,
		"stages": len(o.stages),
	}).Info("Pipeline run starting")

	var fatal error
	for _, stage := range o.stages {
		stageStart := time.Now()
		track := newTracker(stage.Name(), o.store, o.cfg.Pipeline.MaxAttempts, o.logger)

		o.logger.WithField("stage", stage.Name()).Info("Stage starting")
		err := stage.Run(ctx, track)

		failed, cerr := o.collectFailed(stage.Name(), summary)
		if err == nil {
			err = cerr
		}

		summary.Stages = append(summary.Stages, models.StageSummary{
			Stage:          stage.Name(),
			Done:           track.done,
			Skipped:        track.skipped,
			Failed:         failed,
			ElapsedSeconds: time.Since(stageStart).Seconds(),
		})

		if err != nil {
			summary.Status = models.RunStatusFatal
			summary.FatalStage = stage.Name()
			summary.FatalError = err.Error()
			fatal = err
			o.logger.WithFields(map[string]interface{}{
				"stage": stage.Name(),
				"error": err.Error(),
			}).Error("Stage aborted, stopping run")
			break
		}

		o.logger.WithFields(map[string]interface{}{
			"stage":   stage.Name(),
			"done":    track.done,
			"skipped": track.skipped,
			"failed":  failed,
		}).Info("Stage complete")
	}

	if summary.Status == models.RunStatusOK && len(summary.FailedItems) > 0 {
		summary.Status = models.RunStatusItemsFailed
	}
	summary.FinishedAt = time.Now().UTC()

	if err := o.writeSummary(summary); err != nil {
		o.logger.WithError(err).Error("Failed to write run summary")
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id": summary.RunID,
		"status": summary.Status,
	}).Info(summary.StatusLine())

	return summary, fatal
}

// collectFailed gathers the stage's permanently failed items into the
// summary and marks their manifest rows with the terminal error, so
// nothing fails silently. Returns the count.
func (o *Orchestrator) collectFailed(stageID string, summary *models.RunSummary) (int, error) {
	states, err := o.store.FailedItems(stageID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, st := range states {
		if st.AttemptCount < o.cfg.Pipeline.MaxAttempts {
			continue
		}
		count++
		summary.FailedItems = append(summary.FailedItems, models.FailedItem{
			Stage:     stageID,
			ItemID:    st.ItemID,
			Attempts:  st.AttemptCount,
			LastError: st.LastError,
		})
		if err := o.store.SetMediaError(st.ItemID, st.LastError); err != nil {
			return count, err
		}
	}
	return count, nil
}

// writeSummary writes the machine-readable run summary atomically.
func (o *Orchestrator) writeSummary(summary *models.RunSummary) error {
	path := o.cfg.Pipeline.SummaryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// runItemLoop drives an item stage: repeated passes over the item set,
// skipping done and attempt-exhausted items, until nothing is left to
// try. Failed items with attempts remaining are retried on the next
// pass, so a stage always ends with every item done or permanently
// failed. One bad item never stops the loop.
func runItemLoop(ctx context.Context, t *Tracker, items []string, process func(context.Context, string) error) error {
	if len(items) == 0 {
		return nil
	}

	bar := newProgressBar(t.stageID, len(items))
	defer finishBar(bar)

	for {
		attempted := 0
		for _, id := range items {
			if err := ctx.Err(); err != nil {
				return err
			}

			ok, err := t.ShouldProcess(id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			if err := t.Begin(id); err != nil {
				return err
			}
			perr := process(ctx, id)
			if perr != nil && ctx.Err() != nil {
				// Interrupted mid-item: leave it in_progress for the
				// next run rather than charging an attempt.
				return ctx.Err()
			}
			if err := t.Finish(id, perr); err != nil {
				return err
			}
			attempted++
			if perr == nil {
				barAdd(bar)
			}
		}

		if attempted == 0 {
			return nil
		}
	}
}

// newProgressBar returns a per-stage progress bar when a human is
// watching, nil otherwise.
func newProgressBar(stage string, total int) *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(stage),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func barAdd(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Add(1)
	}
}

func finishBar(bar *progressbar.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}
