// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package postgres

// SQL table and column names for the single jobs table (spec §6.1).
const (
	jobsTable = "jobs"

	colID              = "id"
	colTag             = "tag"
	colArgs            = "args"
	colStatus          = "status"
	colVersion         = "version"
	colRunAt           = "run_at"
	colCreatedAt       = "created_at"
	colLockedAt        = "locked_at"
	colCompletedAt     = "completed_at"
	colWorkerID        = "worker_id"
	colWorkerHeartbeat = "worker_heartbeat"
	colExcReason       = "exc_reason"
	colExcTraceback    = "exc_traceback"
)

var allColumns = []string{
	colID, colTag, colArgs, colStatus, colVersion, colRunAt, colCreatedAt,
	colLockedAt, colCompletedAt, colWorkerID, colWorkerHeartbeat,
	colExcReason, colExcTraceback,
}
