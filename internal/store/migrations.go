package store

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL DEFAULT '',
	last_synced_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider_message_id TEXT NOT NULL UNIQUE,
	thread_id TEXT NOT NULL DEFAULT '',
	principal_id TEXT NOT NULL REFERENCES principals(id),
	subject TEXT NOT NULL,
	sender TEXT NOT NULL,
	to_addrs TEXT NOT NULL DEFAULT '[]',
	cc_addrs TEXT NOT NULL DEFAULT '[]',
	body_text TEXT,
	body_html TEXT,
	snippet TEXT NOT NULL DEFAULT '',
	received_at INTEGER NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	labels TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_principal ON messages(principal_id, received_at);

CREATE TABLE IF NOT EXISTS attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	file_id TEXT NOT NULL,
	access_link TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	total_count INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_principal ON sync_runs(principal_id, started_at);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	subject TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload BLOB NOT NULL,
	msg_id TEXT NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL,
	published_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(published_at, next_attempt_at);

INSERT INTO schema_version (version, applied_at) VALUES (1, strftime('%s','now'));
`,
	},
}
