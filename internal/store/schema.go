package store

// schemaVersion is the target schema version for this build.
const schemaVersion = 1

// schemaV1 is the full DDL for a fresh database.
// Timestamps are fixed-width UTC text so lexical order equals time order;
// rowid breaks ties between rows written in the same instant.
var schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS agents (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	role        TEXT,
	prompt      TEXT,
	provider    TEXT NOT NULL,
	model       TEXT,
	temperature REAL NOT NULL DEFAULT 0.7,
	enabled     INTEGER NOT NULL DEFAULT 1,
	version     INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1),
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS links (
	id           TEXT PRIMARY KEY,
	source_agent TEXT NOT NULL,
	target_agent TEXT NOT NULL,
	kind         TEXT NOT NULL,
	strength     REAL NOT NULL DEFAULT 0.5,
	context      TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_source ON links(source_agent, created_at);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target_agent);

CREATE TABLE IF NOT EXISTS behaviors (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	name         TEXT NOT NULL,
	action_type  TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	config       TEXT NOT NULL DEFAULT '{}',
	enabled      INTEGER NOT NULL DEFAULT 1,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_behaviors_lookup ON behaviors(agent_id, action_type, enabled);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	behavior_id     TEXT,
	conversation_id TEXT,
	agent_id        TEXT NOT NULL,
	sender_agent    TEXT,
	input           TEXT NOT NULL,
	output          TEXT,
	provider        TEXT NOT NULL,
	model           TEXT,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	success         INTEGER NOT NULL,
	error           TEXT,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, created_at);

CREATE TABLE IF NOT EXISTS reflections (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	behavior_id TEXT,
	kind        TEXT NOT NULL,
	summary     TEXT NOT NULL,
	content     TEXT,
	confidence  REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	impact      REAL,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reflections_created ON reflections(created_at);
CREATE INDEX IF NOT EXISTS idx_reflections_behavior ON reflections(behavior_id, created_at);

CREATE TABLE IF NOT EXISTS metric_snapshots (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id         TEXT NOT NULL,
	average_impact   REAL NOT NULL,
	consistency      REAL NOT NULL,
	reflection_count INTEGER NOT NULL,
	behavior_count   INTEGER NOT NULL,
	calculated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metric_snapshots_agent ON metric_snapshots(agent_id, id);

CREATE TABLE IF NOT EXISTS leaderboard (
	agent_id                 TEXT PRIMARY KEY,
	position                 INTEGER NOT NULL,
	rank_score               REAL NOT NULL,
	impact_avg               REAL NOT NULL,
	consistency              REAL NOT NULL,
	consistency_rank         INTEGER NOT NULL,
	collaboration_weight_sum REAL NOT NULL,
	computed_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS insights (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	category   TEXT NOT NULL,
	summary    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
