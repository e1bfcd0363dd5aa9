package pipeline

import (
	"dredge/pkg/errors"
	"dredge/pkg/logger"
	"dredge/pkg/models"

	"dredge/internal/store"
)

// Tracker is a stage's view of the checkpoint store plus the counters
// that feed the run summary. All of its methods write from the stage's
// driving goroutine only, which keeps checkpoint writes single-writer
// even when the stage fans work out to a pool.
type Tracker struct {
	stageID     string
	store       *store.Store
	maxAttempts int
	logger      logger.Logger

	observed map[string]bool
	done     int
	skipped  int
}

func newTracker(stageID string, st *store.Store, maxAttempts int, log logger.Logger) *Tracker {
	return &Tracker{
		stageID:     stageID,
		store:       st,
		maxAttempts: maxAttempts,
		logger:      log,
		observed:    make(map[string]bool),
	}
}

// ShouldProcess reports whether the item still needs work: it is false
// for items already done and for items whose attempt budget is spent.
// Items left in_progress by an interrupted run are processed again.
func (t *Tracker) ShouldProcess(itemID string) (bool, error) {
	state, err := t.store.State(t.stageID, itemID)
	if err != nil {
		return false, err
	}

	first := !t.observed[itemID]
	t.observed[itemID] = true

	if state == nil {
		return true, nil
	}
	if state.Status == models.StatusDone {
		if first {
			t.skipped++
			t.logger.WithFields(map[string]interface{}{
				"stage": t.stageID,
				"item":  itemID,
			}).Debug("Item already done, skipping")
		}
		return false, nil
	}
	if state.Status == models.StatusFailed && state.AttemptCount >= t.maxAttempts {
		return false, nil
	}
	return true, nil
}

// Begin durably marks the item in_progress before any work happens, so
// an interruption can never leave it falsely done.
func (t *Tracker) Begin(itemID string) error {
	return t.store.MarkInProgress(t.stageID, itemID)
}

// Finish records the item's outcome. A nil processErr marks it done; an
// item-level error marks it failed and the stage moves on. Fatal errors
// (checkpoint IO, configuration) are returned so the run aborts.
func (t *Tracker) Finish(itemID string, processErr error) error {
	if processErr == nil {
		if err := t.store.MarkDone(t.stageID, itemID); err != nil {
			return err
		}
		t.done++
		return nil
	}

	if errors.IsFatal(processErr) {
		return processErr
	}

	t.logger.WithFields(map[string]interface{}{
		"stage": t.stageID,
		"item":  itemID,
		"error": processErr.Error(),
	}).Warn("Item failed")

	return t.store.MarkFailed(t.stageID, itemID, processErr.Error())
}

// AddDone credits batch work to the stage's done counter.
func (t *Tracker) AddDone(n int) {
	t.done += n
}
