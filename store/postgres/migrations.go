package postgres

// migration is one schema step, applied once and recorded by name.
type migration struct {
	name string
	sql  string
}

// migrations run in order. Append only.
var migrations = []migration{
	{
		name: "001_create_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS tether_jobs (
				id               TEXT PRIMARY KEY,
				queue            TEXT NOT NULL,
				name             TEXT NOT NULL,
				key              TEXT NOT NULL DEFAULT '',
				data             JSONB NOT NULL DEFAULT '{}',
				state            TEXT NOT NULL DEFAULT 'waiting',
				parent_id        TEXT,
				parent_queue     TEXT,
				pending_children INTEGER NOT NULL DEFAULT 0 CHECK (pending_children >= 0),
				parent_resolved  BOOLEAN NOT NULL DEFAULT FALSE,
				lease_token      TEXT NOT NULL DEFAULT '',
				lease_expires_at TIMESTAMPTZ,
				worker_id        TEXT NOT NULL DEFAULT '',
				attempts         INTEGER NOT NULL DEFAULT 0,
				result           JSONB,
				error            TEXT NOT NULL DEFAULT '',
				timeout          BIGINT NOT NULL DEFAULT 0,
				started_at       TIMESTAMPTZ,
				finished_at      TIMESTAMPTZ,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		name: "002_jobs_indexes",
		sql: `
			CREATE INDEX IF NOT EXISTS tether_jobs_waiting_idx
				ON tether_jobs (queue, created_at, id)
				WHERE state = 'waiting';
			CREATE INDEX IF NOT EXISTS tether_jobs_queue_state_idx
				ON tether_jobs (queue, state);
			CREATE INDEX IF NOT EXISTS tether_jobs_parent_idx
				ON tether_jobs (parent_id)
				WHERE parent_id IS NOT NULL;
			CREATE UNIQUE INDEX IF NOT EXISTS tether_jobs_queue_key_idx
				ON tether_jobs (queue, key)
				WHERE key <> ''`,
	},
}
