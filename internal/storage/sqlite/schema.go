package sqlite

// Schema is the complete SQLite schema for the SoulLink stores.
//
// Timestamps are stored as integer unix nanoseconds so that ORDER BY on
// them is exact. The UNIQUE constraint on (user_id, tier, content_hash)
// is what makes Upsert idempotent: a retried merge can never create a
// duplicate fact.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	content TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	salience REAL NOT NULL DEFAULT 0,
	reinforcement_count INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	last_reinforced_at INTEGER NOT NULL,
	source_conversation_id TEXT NOT NULL DEFAULT '',
	UNIQUE (user_id, tier, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_memory_records_user_tier
	ON memory_records (user_id, tier, salience DESC, last_reinforced_at DESC);

CREATE INDEX IF NOT EXISTS idx_memory_records_user_hash
	ON memory_records (user_id, content_hash);

CREATE TABLE IF NOT EXISTS workspaces (
	user_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	remote_id TEXT NOT NULL DEFAULT '',
	slug TEXT NOT NULL DEFAULT '',
	variant TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT 'en',
	last_synced_prompt_version INTEGER NOT NULL DEFAULT 0,
	last_synced_document_version INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`
