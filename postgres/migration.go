// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package postgres

import (
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"
)

// migrationSource holds the schema migrations inline, as a
// MemoryMigrationSource, rather than the teacher's go-bindata-compiled
// migrations/ directory: the schema here is a single table, so there
// is nothing gained from the asset-bundling step.
var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_jobs",
			Up: []string{`
				CREATE TABLE jobs (
					id                TEXT PRIMARY KEY,
					tag               TEXT NOT NULL,
					args              BYTEA,
					status            SMALLINT NOT NULL,
					version           INTEGER NOT NULL,
					run_at            TIMESTAMP WITH TIME ZONE,
					created_at        TIMESTAMP WITH TIME ZONE,
					locked_at         TIMESTAMP WITH TIME ZONE,
					completed_at      TIMESTAMP WITH TIME ZONE,
					worker_id         TEXT,
					worker_heartbeat  TIMESTAMP WITH TIME ZONE,
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
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Drop runs every migration in reverse, ultimately dropping the jobs
// table. Intended for tests.
func Drop(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}
