package store

// Schema v1 - media manifest, stage checkpoints, cluster view.
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Media manifest: one row per discovered file. Rows only grow fields as
-- stages run; they are never deleted.
CREATE TABLE IF NOT EXISTS media (
  id TEXT PRIMARY KEY,
  source_url TEXT NOT NULL,
  filename TEXT NOT NULL,
  content_type TEXT NOT NULL DEFAULT '',
  size_bytes INTEGER NOT NULL DEFAULT 0,
  local_path TEXT NOT NULL DEFAULT '',
  perceptual_hash TEXT NOT NULL DEFAULT '',
  discovered_at TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_media_discovered ON media(discovered_at, id);
CREATE INDEX IF NOT EXISTS idx_media_hash ON media(perceptual_hash);

-- Per-item checkpoints, keyed by (stage, item). The sole authority for
-- "already done" decisions on resume.
CREATE TABLE IF NOT EXISTS stage_states (
  stage_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  status TEXT NOT NULL,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT '',
  updated_at TEXT NOT NULL,
  PRIMARY KEY (stage_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_stage_states_status ON stage_states(stage_id, status);

-- Near-duplicate cluster view, replaced wholesale each clustering run.
CREATE TABLE IF NOT EXISTS clusters (
  cluster_id TEXT PRIMARY KEY,
  representative_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cluster_members (
  cluster_id TEXT NOT NULL REFERENCES clusters(cluster_id) ON DELETE CASCADE,
  member_id TEXT NOT NULL,
  is_representative INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (cluster_id, member_id)
);

CREATE INDEX IF NOT EXISTS idx_cluster_members_member ON cluster_members(member_id);
`
