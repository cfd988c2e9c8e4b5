// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package sqlite

import (
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"
)

// migrationSource mirrors postgres.migrationSource's single-table
// schema, in SQLite dialect (no WITH TIME ZONE, no SMALLINT).
var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_jobs",
			Up: []string{`
				CREATE TABLE jobs (
					id                TEXT PRIMARY KEY,
					tag               TEXT NOT NULL,
					args              BLOB,
					status            INTEGER NOT NULL,
					version           INTEGER NOT NULL,
					run_at            DATETIME,
					created_at        DATETIME,
					locked_at         DATETIME,
					completed_at      DATETIME,
					worker_id         TEXT,
					worker_heartbeat  DATETIME,
					exc_reason        TEXT,
					exc_traceback     TEXT
				)
			`, `
				CREATE INDEX jobs_acquire_idx
					ON jobs (tag, status, run_at)
			`, `
				CREATE INDEX jobs_reclaim_idx
					ON jobs (tag, status, worker_heartbeat)
			`, `
				CREATE INDEX jobs_id_version_idx
					ON jobs (id, version)
			`,
			},
			Down: []string{`DROP TABLE jobs`},
		},
	},
}

// Upgrade brings db's schema up to the latest migration.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "sqlite3", migrationSource, migrate.Up)
	return err
}
