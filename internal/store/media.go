package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"dredge/pkg/errors"
	"dredge/pkg/models"
)

// UpsertMedia inserts a media record or refreshes its discovery fields.
// The first observed discovery timestamp wins, and fields derived by
// later stages (local path, hash, metadata) are left untouched, so
// re-running discovery never rewrites progress.
func (s *Store) UpsertMedia(rec *models.MediaRecord) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO media (id, source_url, filename, content_type, size_bytes,
		                   local_path, perceptual_hash, discovered_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_url = excluded.source_url,
			filename = excluded.filename
	`, rec.ID, rec.SourceURL, rec.Filename, rec.ContentType, rec.SizeBytes,
		rec.LocalPath, rec.PerceptualHash, rec.DiscoveredAt.UTC().Format(time.RFC3339Nano),
		rec.Error, meta)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "upserting media record", err)
	}
	return nil
}

// GetMedia returns the record with the given id, or nil when absent.
func (s *Store) GetMedia(id string) (*models.MediaRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, source_url, filename, content_type, size_bytes,
		       local_path, perceptual_hash, discovered_at, error, metadata
		FROM media WHERE id = ?
	`, id)

	rec, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "reading media record", err)
	}
	return rec, nil
}

// ListMedia returns all records in discovery order, ties broken by id.
// This order is stable across runs, which keeps download caps and
// exported views deterministic.
func (s *Store) ListMedia() ([]models.MediaRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, source_url, filename, content_type, size_bytes,
		       local_path, perceptual_hash, discovered_at, error, metadata
		FROM media ORDER BY discovered_at, id
	`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing media records", err)
	}
	defer rows.Close()

	var records []models.MediaRecord
	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "scanning media record", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "listing media records", err)
	}
	return records, nil
}

// ApplyDownload records the result of downloading one file.
func (s *Store) ApplyDownload(id, localPath string, sizeBytes int64, contentType string) error {
	_, err := s.db.Exec(`
		UPDATE media SET local_path = ?, size_bytes = ?, content_type = ?
		WHERE id = ?
	`, localPath, sizeBytes, contentType, id)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "recording download", err)
	}
	return nil
}

// ApplyFingerprint records a computed perceptual hash and merges the
// derived metadata fields.
func (s *Store) ApplyFingerprint(id, hash string, meta map[string]string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE media SET perceptual_hash = ? WHERE id = ?`, hash, id); err != nil {
			return errors.Wrap(errors.ErrorTypeCheckpoint, "recording fingerprint", err)
		}
		return mergeMetadataTx(tx, id, meta)
	})
}

// MergeMetadata adds the given keys to a record's open metadata map.
// Existing keys are overwritten, which is how derived values such as the
// attention score get corrected on a re-run; other keys are untouched.
func (s *Store) MergeMetadata(id string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	return s.Transaction(func(tx *sql.Tx) error {
		return mergeMetadataTx(tx, id, meta)
	})
}

// SetMediaError marks a record with a terminal error note. The record
// itself stays in the manifest.
func (s *Store) SetMediaError(id, msg string) error {
	_, err := s.db.Exec(`UPDATE media SET error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "recording media error", err)
	}
	return nil
}

// MediaTotals summarizes the manifest for status output.
type MediaTotals struct {
	Records       int
	Downloaded    int
	Fingerprinted int
	Bytes         int64
}

// Totals returns manifest-wide counters.
func (s *Store) Totals() (MediaTotals, error) {
	var t MediaTotals
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(CASE WHEN local_path != '' THEN 1 END),
		       COUNT(CASE WHEN perceptual_hash != '' THEN 1 END),
		       COALESCE(SUM(CASE WHEN local_path != '' THEN size_bytes ELSE 0 END), 0)
		FROM media
	`).Scan(&t.Records, &t.Downloaded, &t.Fingerprinted, &t.Bytes)
	if err != nil {
		return t, errors.Wrap(errors.ErrorTypeCheckpoint, "reading manifest totals", err)
	}
	return t, nil
}

func mergeMetadataTx(tx *sql.Tx, id string, meta map[string]string) error {
	var raw string
	err := tx.QueryRow(`SELECT metadata FROM media WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return errors.Newf(errors.ErrorTypeCheckpoint, "no media record %s", id)
	}
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "reading metadata", err)
	}

	current, err := decodeMetadata(raw)
	if err != nil {
		return err
	}
	if current == nil {
		current = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		current[k] = v
	}

	encoded, err := encodeMetadata(current)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE media SET metadata = ? WHERE id = ?`, encoded, id); err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "writing metadata", err)
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMedia(row scanner) (*models.MediaRecord, error) {
	var rec models.MediaRecord
	var discovered, meta string

	err := row.Scan(&rec.ID, &rec.SourceURL, &rec.Filename, &rec.ContentType,
		&rec.SizeBytes, &rec.LocalPath, &rec.PerceptualHash, &discovered,
		&rec.Error, &meta)
	if err != nil {
		return nil, err
	}

	rec.DiscoveredAt, err = time.Parse(time.RFC3339Nano, discovered)
	if err != nil {
		return nil, err
	}
	rec.Metadata, err = decodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", errors.Wrap(errors.ErrorTypeCheckpoint, "encoding metadata", err)
	}
	return string(data), nil
}

func decodeMetadata(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeCheckpoint, "decoding metadata", err)
	}
	return meta, nil
}
