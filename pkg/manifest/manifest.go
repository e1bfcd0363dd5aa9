// Package manifest renders the pipeline's durable state as CSV files:
// the media manifest, the cluster assignments, and the selected
// candidates. The files are the human-inspectable and machine-appendable
// face of the store; the base columns are fixed and metadata keys become
// extra columns, so the column set only ever grows as stages add fields.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dredge/pkg/errors"
	"dredge/pkg/models"
)

// The fixed column set every manifest carries, in order.
var baseColumns = []string{
	"id", "source_url", "filename", "content_type", "size_bytes",
	"local_path", "perceptual_hash", "discovered_at", "error",
}

// WriteManifest writes one row per record. Metadata keys across all
// records become additional columns in sorted order.
func WriteManifest(path string, records []models.MediaRecord) error {
	metaKeys := collectMetaKeys(records)
	header := append(append([]string{}, baseColumns...), metaKeys...)

	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write(header); err != nil {
			return err
		}
		for _, rec := range records {
			row := []string{
				rec.ID,
				rec.SourceURL,
				rec.Filename,
				rec.ContentType,
				strconv.FormatInt(rec.SizeBytes, 10),
				rec.LocalPath,
				rec.PerceptualHash,
				rec.DiscoveredAt.UTC().Format(time.RFC3339Nano),
				rec.Error,
			}
			for _, key := range metaKeys {
				row = append(row, rec.Meta(key))
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadManifest parses a manifest file back into records, accepting rows
// produced by WriteManifest or by an external collaborator. Unknown
// columns land in the metadata map; only id and source_url are required.
func ReadManifest(path string) ([]models.MediaRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, "opening manifest", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(errors.ErrorTypePermanent, "reading manifest header", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, errors.New(errors.ErrorTypePermanent, "manifest has no id column")
	}
	if _, ok := col["source_url"]; !ok {
		return nil, errors.New(errors.ErrorTypePermanent, "manifest has no source_url column")
	}

	known := make(map[string]bool, len(baseColumns))
	for _, name := range baseColumns {
		known[name] = true
	}

	var records []models.MediaRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrorTypePermanent,
				fmt.Sprintf("reading manifest line %d", line), err)
		}

		field := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}

		rec := models.MediaRecord{
			ID:             field("id"),
			SourceURL:      field("source_url"),
			Filename:       field("filename"),
			ContentType:    field("content_type"),
			LocalPath:      field("local_path"),
			PerceptualHash: field("perceptual_hash"),
			Error:          field("error"),
		}
		if rec.ID == "" || rec.SourceURL == "" {
			return nil, errors.Newf(errors.ErrorTypePermanent,
				"manifest line %d is missing id or source_url", line)
		}
		if rec.Filename == "" {
			rec.Filename = models.FilenameFromURL(rec.SourceURL)
		}
		if v := field("size_bytes"); v != "" {
			rec.SizeBytes, _ = strconv.ParseInt(v, 10, 64)
		}
		if v := field("discovered_at"); v != "" {
			at, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, errors.Wrap(errors.ErrorTypePermanent,
					fmt.Sprintf("manifest line %d discovered_at", line), err)
			}
			rec.DiscoveredAt = at
		} else {
			rec.DiscoveredAt = time.Now().UTC()
		}

		for name, i := range col {
			if known[name] || i >= len(row) || row[i] == "" {
				continue
			}
			rec.SetMeta(name, row[i])
		}

		records = append(records, rec)
	}

	return records, nil
}

// WriteClusters writes one row per cluster member with the
// is_representative flag downstream filters key on.
func WriteClusters(path string, clusters []models.Cluster) error {
	return writeAtomic(path, func(w *csv.Writer) error {
		if err := w.Write([]string{"cluster_id", "member_id", "is_representative"}); err != nil {
			return err
		}
		for _, c := range clusters {
			for _, member := range c.MemberIDs {
				flag := "false"
				if member == c.RepresentativeID {
					flag = "true"
				}
				if err := w.Write([]string{c.ID, member, flag}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteCandidates writes the records the selection stage surfaced.
func WriteCandidates(path string, records []models.MediaRecord) error {
	return writeAtomic(path, func(w *csv.Writer) error {
		header := []string{"id", "filename", "source_url", "local_path",
			"perceptual_hash", "attention_score"}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, rec := range records {
			row := []string{
				rec.ID,
				rec.Filename,
				rec.SourceURL,
				rec.LocalPath,
				rec.PerceptualHash,
				rec.Meta(models.MetaAttentionScore),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// collectMetaKeys returns the union of metadata keys, sorted.
func collectMetaKeys(records []models.MediaRecord) []string {
	set := make(map[string]bool)
	for _, rec := range records {
		for key := range rec.Metadata {
			set[key] = true
		}
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// writeAtomic writes CSV content to a temporary file and renames it over
// the target, so readers never observe a half-written view.
func writeAtomic(path string, fn func(*csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "creating output directory", err)
	}

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return errors.Wrap(errors.ErrorTypeCheckpoint, "creating output file", err)
	}

	w := csv.NewWriter(f)
	writeErr := fn(w)
	if writeErr == nil {
		w.Flush()
		writeErr = w.Error()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempPath)
		return errors.Wrap(errors.ErrorTypeCheckpoint, "writing "+filepath.Base(path), writeErr)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return errors.Wrap(errors.ErrorTypeCheckpoint, "renaming "+filepath.Base(path), err)
	}
	return nil
}
