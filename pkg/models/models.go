package models

import (
	"crypto/sha1"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaRecord is one row of the manifest: a single discovered file and the
// fields stages have derived for it so far. Stages only add fields; the
// record is never rewritten wholesale and never deleted.
type MediaRecord struct {
	ID             string            `json:"id"`
	SourceURL      string            `json:"source_url"`
	Filename       string            `json:"filename"`
	ContentType    string            `json:"content_type,omitempty"`
	SizeBytes      int64             `json:"size_bytes,omitempty"`
	LocalPath      string            `json:"local_path,omitempty"`
	PerceptualHash string            `json:"perceptual_hash,omitempty"`
	DiscoveredAt   time.Time         `json:"discovered_at"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Downloaded reports whether the record has a local copy on disk.
func (m *MediaRecord) Downloaded() bool {
	return m.LocalPath != ""
}

// Fingerprinted reports whether a perceptual hash has been computed.
func (m *MediaRecord) Fingerprinted() bool {
	return m.PerceptualHash != ""
}

// Meta returns a metadata value, or "" when unset.
func (m *MediaRecord) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta sets a metadata value, allocating the map on first use.
func (m *MediaRecord) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// Well-known metadata keys populated by the stages.
const (
	MetaWidth          = "width"
	MetaHeight         = "height"
	MetaFormat         = "format"
	MetaAHash          = "ahash"
	MetaAttentionScore = "attention_score"
	MetaUnderreported  = "underreported"
	MetaCandidate      = "candidate"
	MetaMentionPrefix  = "mentions."
)

// DeriveID computes the stable record id for a source URL. The same URL
// must map to the same id on every run, so ids are a truncated SHA-1 of
// the URL string.
func DeriveID(sourceURL string) string {
	sum := sha1.Sum([]byte(sourceURL))
	return fmt.Sprintf("%x", sum)[:16]
}

// FilenameFromURL extracts a human-readable file name from a URL path,
// dropping any query string. Falls back to the record id when the path
// has no usable base name.
func FilenameFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return DeriveID(sourceURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return DeriveID(sourceURL)
	}
	return name
}

// StageStatus is the per-item checkpoint state for one stage.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusDone       StageStatus = "done"
	StatusFailed     StageStatus = "failed"
)

// StageState is one checkpoint row, keyed by (stage, item).
type StageState struct {
	StageID      string      `json:"stage_id"`
	ItemID       string      `json:"item_id"`
	Status       StageStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	LastError    string      `json:"last_error,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// StageCounts aggregates checkpoint rows for one stage.
type StageCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
}

// Cluster is one group of near-duplicate media records. The representative
// is the member discovered earliest; ties go to the smallest id.
type Cluster struct {
	ID               string   `json:"cluster_id"`
	RepresentativeID string   `json:"representative_id"`
	MemberIDs        []string `json:"member_ids"`
}

// Size returns the number of members in the cluster.
func (c *Cluster) Size() int {
	return len(c.MemberIDs)
}

// Run status values reported in the post-run summary.
const (
	RunStatusOK          = "ok"
	RunStatusItemsFailed = "items_failed"
	RunStatusFatal       = "fatal"
)

// StageSummary is the per-stage slice of a run summary.
type StageSummary struct {
	Stage          string  `json:"stage"`
	Done           int     `json:"done"`
	Skipped        int     `json:"skipped"`
	Failed         int     `json:"failed"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// FailedItem records one permanently failed item for the summary.
type FailedItem struct {
	Stage     string `json:"stage"`
	ItemID    string `json:"item_id"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// RunSummary is the machine-readable result of one pipeline invocation.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Status      string         `json:"status"`
	Stages      []StageSummary `json:"stages"`
	FailedItems []FailedItem   `json:"failed_items,omitempty"`
	FatalStage  string         `json:"fatal_stage,omitempty"`
	FatalError  string         `json:"fatal_error,omitempty"`
}

// OK reports whether the run completed with every item done.
func (s *RunSummary) OK() bool {
	return s.Status == RunStatusOK
}

// StatusLine renders a one-line human description of the run outcome.
func (s *RunSummary) StatusLine() string {
	switch s.Status {
	case RunStatusOK:
		return "pipeline completed"
	case RunStatusItemsFailed:
		return fmt.Sprintf("pipeline completed with %d permanently failed item(s)", len(s.FailedItems))
	case RunStatusFatal:
		return fmt.Sprintf("pipeline aborted in stage %s: %s", s.FatalStage, s.FatalError)
	default:
		return strings.ToLower(s.Status)
	}
}
