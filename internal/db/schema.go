package db

// SchemaSQL is the complete schema for a fresh memory.db (spec.md §3):
// the six memory entities plus the nine indexes named in spec.md §6.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS file_knowledge (
	path TEXT PRIMARY KEY,
	imports TEXT NOT NULL DEFAULT '[]',
	exports TEXT NOT NULL DEFAULT '[]',
	cochanges TEXT NOT NULL DEFAULT '[]',
	last_error TEXT,
	last_fix TEXT,
	touch_count INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS solutions (
	id TEXT PRIMARY KEY,
	error_key TEXT NOT NULL,
	error_text TEXT,
	fix_summary TEXT,
	fix_files TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 0.5,
	attempts INTEGER NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0 CHECK(resolved IN (0,1)),
	task_key TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_runs (
	id TEXT PRIMARY KEY,
	task_key TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	tool_id TEXT,
	outcome TEXT NOT NULL CHECK(outcome IN ('running','passed','failed','blocked','crashed','timeout')) DEFAULT 'running',
	attempts INTEGER NOT NULL DEFAULT 1,
	files_touched TEXT NOT NULL DEFAULT '[]',
	errors TEXT NOT NULL DEFAULT '[]',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	notes TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS repo_rules (
	id TEXT PRIMARY KEY,
	scope TEXT NOT NULL,
	rule TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.5,
	source TEXT,
	hits INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(scope, rule)
);

CREATE TABLE IF NOT EXISTS verification_episodes (
	id TEXT PRIMARY KEY,
	task_key TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	passed INTEGER NOT NULL CHECK(passed IN (0,1)),
	checks TEXT NOT NULL DEFAULT '[]',
	files TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS error_file_relations (
	id TEXT PRIMARY KEY,
	error_key TEXT NOT NULL,
	file_path TEXT NOT NULL,
	relation TEXT NOT NULL DEFAULT 'caused_by',
	occurrences INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(error_key, file_path, relation)
);

CREATE INDEX IF NOT EXISTS idx_solutions_error ON solutions(error_key);
CREATE INDEX IF NOT EXISTS idx_solutions_conf ON solutions(confidence);
CREATE INDEX IF NOT EXISTS idx_runs_task ON task_runs(task_key);
CREATE INDEX IF NOT EXISTS idx_runs_agent ON task_runs(agent_id);
CREATE INDEX IF NOT EXISTS idx_rules_scope ON repo_rules(scope);
CREATE INDEX IF NOT EXISTS idx_episodes_task ON verification_episodes(task_key);
CREATE INDEX IF NOT EXISTS idx_episodes_agent ON verification_episodes(agent_id);
CREATE INDEX IF NOT EXISTS idx_relations_error ON error_file_relations(error_key);
CREATE INDEX IF NOT EXISTS idx_relations_file ON error_file_relations(file_path);
`
