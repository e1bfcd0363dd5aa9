package store

import (
	"database/sql"
	"time"

	"dredge/pkg/errors"
	"dredge/pkg/models"
)

// Checkpoint operations. Every mark is its own committed transaction, so
// a status is durable before the orchestrator acts on it; a crash between
// starting an item and marking it done leaves the row in_progress and the
// item is redone on the next run.

// IsDone reports whether the item has completed the stage.
func (s *Store) IsDone(stageID, itemID string) (bool, error) {
	state, err := s.State(stageID, itemID)
	if err != nil {
		return false, err
	}
	return state != nil && state.Status == models.StatusDone, nil
}

// State returns the checkpoint row for (stage, item), or nil when the
// item has never been attempted.
func (s *Store) State(stageID, itemID string) (*models.StageState, error) {
	var st models.StageState
	var updated string

	err := s.db.QueryRow(`
		SELECT stage_id, item_id, status, attempt_count, last_error, updated_at
		FROM stage_states WHERE stage_id = ? AND item_id = ?
	`, stageID, itemID).Scan(&st.StageID, &st.ItemID, &st.Status,
		&st.AttemptCount, &st.LastError, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "reading checkpoint", err)
	}

	st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "parsing checkpoint timestamp", err)
	}
	return &st, nil
}

// MarkInProgress records that processing of the item has started. A done
// item is never demoted: done is terminal for a stage.
func (s *Store) MarkInProgress(stageID, itemID string) error {
	return s.mark(stageID, itemID, models.StatusInProgress, "")
}

// MarkDone records completion. Callers must only mark done after the
// item's outputs are durable.
func (s *Store) MarkDone(stageID, itemID string) error {
	return s.mark(stageID, itemID, models.StatusDone, "")
}

// MarkFailed records a failed attempt, incrementing the attempt count
// and keeping the error text for the post-run summary.
func (s *Store) MarkFailed(stageID, itemID, lastError string) error {
	_, err := s.db.Exec(`
		INSERT INTO stage_states (stage_id, item_id, status, attempt_count, last_error, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(stage_id, item_id) DO UPDATE SET
			status = excluded.status,
			attempt_count = stage_states.attempt_count + 1,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE stage_states.status != 'done'
	`, stageID, itemID, models.StatusFailed, lastError, now())
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "marking item failed", err)
	}
	return nil
}

// Attempts returns the number of failed attempts recorded for the item.
func (s *Store) Attempts(stageID, itemID string) (int, error) {
	state, err := s.State(stageID, itemID)
	if err != nil {
		return 0, err
	}
	if state == nil {
		return 0, nil
	}
	return state.AttemptCount, nil
}

// StageCounts aggregates checkpoint rows for one stage.
func (s *Store) StageCounts(stageID string) (models.StageCounts, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM stage_states
		WHERE stage_id = ? GROUP BY status
	`, stageID)
	if err != nil {
		return models.StageCounts{}, errors.Wrap(errors.ErrorTypeCheckpoint, "counting checkpoints", err)
	}
	defer rows.Close()

	var counts models.StageCounts
	for rows.Next() {
		var status models.StageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, errors.Wrap(errors.ErrorTypeCheckpoint, "counting checkpoints", err)
		}
		switch status {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusInProgress:
			counts.InProgress = n
		case models.StatusDone:
			counts.Done = n
		case models.StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// FailedItems returns the failed checkpoint rows for one stage, ordered
// by item id.
func (s *Store) FailedItems(stageID string) ([]models.StageState, error) {
	rows, err := s.db.Query(`
		SELECT stage_id, item_id, status, attempt_count, last_error, updated_at
		FROM stage_states WHERE stage_id = ? AND status = ? ORDER BY item_id
	`, stageID, models.StatusFailed)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing failed items", err)
	}
	defer rows.Close()

	var states []models.StageState
	for rows.Next() {
		var st models.StageState
		var updated string
		if err := rows.Scan(&st.StageID, &st.ItemID, &st.Status,
			&st.AttemptCount, &st.LastError, &updated); err != nil {
			return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing failed items", err)
		}
		st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		states = append(states, st)
	}
	return states, rows.Err()
}

// ResetStage discards every checkpoint row for a stage so its items run
// again from scratch. Media records and blobs are untouched.
func (s *Store) ResetStage(stageID string) error {
	_, err := s.db.Exec(`DELETE FROM stage_states WHERE stage_id = ?`, stageID)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "resetting stage "+stageID, err)
	}
	return nil
}

func (s *Store) mark(stageID, itemID string, status models.StageStatus, lastError string) error {
	_, err := s.db.Exec(`
		INSERT INTO stage_states (stage_id, item_id, status, attempt_count, last_error, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(stage_id, item_id) DO UPDATE SET
			status = excluded.status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
		WHERE stage_states.status != 'done'
	`, stageID, itemID, status, lastError, now())
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "marking item "+string(status), err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
