package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatches (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	rule          TEXT NOT NULL,
	url           TEXT NOT NULL,
	mailbox       TEXT NOT NULL,
	uid           INTEGER NOT NULL,
	message_id    TEXT NOT NULL DEFAULT '',
	status_code   INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	dispatched_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dispatches_run ON dispatches(run_id);
CREATE INDEX IF NOT EXISTS idx_dispatches_dispatched_at ON dispatches(dispatched_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE dispatches ADD COLUMN digest TEXT NOT NULL DEFAULT '';

CREATE INDEX IF NOT EXISTS idx_dispatches_message ON dispatches(mailbox, uid);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
