package store

// Timestamps are unix milliseconds so time-window queries compare integers.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS boards (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

INSERT OR IGNORE INTO boards (id, workspace_id, name, created_at)
VALUES ('default', 'default', 'Default', 0);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	position INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL CHECK (status IN ('ideas','todo','doing','review','release','done','archived')),
	position INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_board_status ON tasks (board_id, status, position);

CREATE TABLE IF NOT EXISTS task_sessions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE REFERENCES tasks(id) ON DELETE CASCADE,
	agent_id TEXT NULL REFERENCES agents(id) ON DELETE SET NULL,
	session_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'idle' CHECK (status IN ('idle','running')),
	last_run_id TEXT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_runs (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	board_id TEXT NOT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent_label TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('running','succeeded','failed','cancelled')),
	started_at INTEGER NOT NULL,
	finished_at INTEGER NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agent_runs_task_created ON agent_runs (task_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_agent_runs_status_created ON agent_runs (status, created_at);

CREATE TABLE IF NOT EXISTS run_steps (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
	step_index INTEGER NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('running','succeeded','failed','cancelled')),
	input_json TEXT NOT NULL DEFAULT '{}',
	output_json TEXT NOT NULL DEFAULT '{}',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NULL,
	UNIQUE (run_id, step_index)
);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES agent_runs(id) ON DELETE CASCADE,
	step_id TEXT NULL,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	status TEXT NOT NULL CHECK (status IN ('pending','approved','rejected')),
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	requested_by TEXT NOT NULL DEFAULT '',
	decided_by TEXT NULL,
	decision_reason TEXT NULL,
	created_at INTEGER NOT NULL,
	decided_at INTEGER NULL
);

CREATE INDEX IF NOT EXISTS idx_approvals_status_created ON approvals (status, created_at DESC);

CREATE TABLE IF NOT EXISTS checklist_items (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	state TEXT NOT NULL CHECK (state IN ('todo','doing','done')),
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checklist_task_position ON checklist_items (task_id, position);

CREATE TABLE IF NOT EXISTS docs (
	key TEXT PRIMARY KEY,
	content TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
)
`
