package history

const schema = `
CREATE TABLE IF NOT EXISTS passes (
	pass_id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	schedules_processed INTEGER NOT NULL DEFAULT 0,
	schedules_failed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schedule_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pass_id TEXT NOT NULL,
	schedule_id TEXT NOT NULL,
	status TEXT NOT NULL,
	emails_found INTEGER NOT NULL DEFAULT 0,
	downloaded INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	FOREIGN KEY (pass_id) REFERENCES passes(pass_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	attachment_id TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	downloaded_at TIMESTAMP NOT NULL,
	UNIQUE (message_id, attachment_id)
);

CREATE INDEX IF NOT EXISTS idx_schedule_runs_pass ON schedule_runs(pass_id);
CREATE INDEX IF NOT EXISTS idx_schedule_runs_schedule ON schedule_runs(schedule_id);
`
