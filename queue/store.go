// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue

import (
	"context"
	"time"
)

// Store is the minimal contract a durable storage adapter must
// satisfy for the Controller to implement the leasing protocol over
// it (spec §6.1).  Every method here must be a single atomic
// store-level operation; the Controller composes them but never
// performs its own compare-and-swap across two calls.
//
// Implementations must classify failures: a version mismatch or
// missing-at-version condition must be returned as a *ConcurrencyError;
// every other failure is treated by callers as retriable, so
// implementations should wrap genuinely transient failures (timeouts,
// connection loss) in RetriableError, though this is not required —
// an unwrapped error is treated as retriable by default (spec §4.1).
type Store interface {
	// CreateJob inserts a new IDLE job at version 0.  If a job with
	// this id already exists, CreateJob is a silent no-op: it
	// returns nil and does not modify the existing record
	// (invariant 1, spec §3).
	CreateJob(ctx context.Context, j Job) error

	// GetJob retrieves a job by id.  Returns nil, nil if no such
	// job exists.
	GetJob(ctx context.Context, id string) (*Job, error)

	// CASUpdate atomically reads the job at id, checks its version
	// against expectVersion, applies mutate to a copy, increments
	// Version, and writes the result back.  Returns a
	// *ConcurrencyError if no job exists at id with that version.
	// mutate must not change ID, Version, or CreatedAt.
	CASUpdate(ctx context.Context, id string, expectVersion int, mutate func(*Job)) (*Job, error)

	// CASDelete atomically deletes the job at id if its version
	// equals expectVersion.  Returns a *ConcurrencyError if no job
	// exists at id with that version.  Deletion is legal from any
	// status (spec §3 invariant 5).
	CASDelete(ctx context.Context, id string, expectVersion int) error

	// AcquireIdle implements leasing algorithm step 1 (spec §4.1):
	// atomically finds an IDLE job whose tag is in tags and whose
	// run_at is not in the future, transitions it to LOCKED under
	// workerID, and returns the post-image.  Returns nil, nil if no
	// such job exists. Tie-breaking among multiple candidates is
	// unspecified.
	AcquireIdle(ctx context.Context, tags []string, workerID string, now time.Time) (*Job, error)

	// AcquireAbandoned implements leasing algorithm step 2 (spec
	// §4.1): atomically finds a LOCKED job whose tag is in tags and
	// whose worker_heartbeat is older than heartbeatCutoff,
	// reassigns it to workerID, and returns the post-image. Returns
	// nil, nil if no such job exists.
	AcquireAbandoned(ctx context.Context, tags []string, workerID string, now, heartbeatCutoff time.Time) (*Job, error)
}
