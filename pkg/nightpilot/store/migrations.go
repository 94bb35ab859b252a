package store

// migration is one forward, idempotent schema step. Migrations never run
// outside the single transaction migrate() wraps them in, and never get
// renumbered once shipped.
type migration struct {
	version int
	sql     string
}

// migrations is applied in order on every OpenSQLite call; a migration
// already recorded in schema_version is skipped. Schema version 2 is the
// legacy-DB-path recognition named in SPEC_FULL §3 Open Question (b) — the
// actual file copy happens in migrateLegacyFile before the connection is
// opened, on every open, and is skipped whenever the canonical file already
// exists; version 2 here only records that step in schema_version.
var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL REFERENCES prompts(id),
			cron TEXT NOT NULL DEFAULT '',
			run_at TEXT,
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,

			execution_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_run_at TEXT,
			next_run_at TEXT,

			retry_max_attempts INTEGER NOT NULL DEFAULT 3,
			retry_base_delay_ms INTEGER NOT NULL DEFAULT 1000,
			retry_multiplier REAL NOT NULL DEFAULT 2.0,
			retry_max_delay_ms INTEGER NOT NULL DEFAULT 60000,
			retry_codes TEXT NOT NULL DEFAULT '[]',

			opt_working_dir TEXT NOT NULL DEFAULT '',
			opt_timeout_ms INTEGER NOT NULL DEFAULT 300000,
			opt_output_format TEXT NOT NULL DEFAULT 'json',
			opt_danger_mode INTEGER NOT NULL DEFAULT 0,
			opt_dry_run INTEGER NOT NULL DEFAULT 0,
			opt_stagger INTEGER NOT NULL DEFAULT 0,
			opt_exact INTEGER NOT NULL DEFAULT 0,
			opt_model TEXT NOT NULL DEFAULT '',

			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_poll ON jobs(status, next_run_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_prompt ON jobs(prompt_id);

		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			job_id TEXT REFERENCES jobs(id) ON DELETE CASCADE,
			prompt_content_hash TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			start_instant TEXT NOT NULL,
			end_instant TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,

			raw_output TEXT NOT NULL DEFAULT '',
			output_truncated INTEGER NOT NULL DEFAULT 0,
			result_payload TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			retry_index INTEGER NOT NULL DEFAULT 0,

			cost_estimate REAL,
			usage_in INTEGER,
			usage_out INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_executions_job ON executions(job_id, start_instant DESC);

		CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instant TEXT NOT NULL,
			remaining_minutes REAL NOT NULL,
			total_minutes REAL NOT NULL,
			usage_percentage REAL NOT NULL,
			source TEXT NOT NULL,
			raw_text TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_usage_records_instant ON usage_records(instant);
		`,
	},
	{
		version: 2,
		// No schema change: this step only exists so schema_version
		// records that the legacy claude-pilot.db recognition (run
		// unconditionally in migrateLegacyFile before the connection
		// opens) has been accounted for in this database's history.
		sql: `CREATE TABLE IF NOT EXISTS legacy_migration_marker (checked_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP)`,
	},
	{
		version: 3,
		sql:     `ALTER TABLE executions ADD COLUMN cooldown_reset_at TEXT`,
	},
	{
		version: 4,
		// Tracks consecutive non-Completed terminal executions per job, so
		// FinishExecution can trip a job to JobError once it exhausts the
		// intervention threshold instead of rescheduling it forever.
		sql: `ALTER TABLE jobs ADD COLUMN consecutive_failures INTEGER NOT NULL DEFAULT 0`,
	},
}
