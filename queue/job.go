// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package queue defines the core data model and coordination contract
// of the task queue: the Job record, the Store an adapter must
// provide, the Controller that implements the leasing protocol over a
// Store, and the Channel a worker-supplied function observes while it
// runs.
package queue

import (
	"encoding/hex"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Status is the lifecycle state of a Job.  The Controller moves IDLE
// to LOCKED on acquire, LOCKED to COMPLETED on finalize, LOCKED to
// IDLE on requeue, and any status to CANCELLED on cancel.
type Status int

const (
	// IDLE jobs are available for acquisition (subject to tag match
	// and run_at).
	IDLE Status = iota

	// LOCKED jobs are leased to exactly one worker.
	LOCKED

	// CANCELLED jobs are terminal; no worker will acquire them.
	CANCELLED

	// COMPLETED jobs are terminal; no worker will acquire them.
	COMPLETED
)

// String renders a Status the way it appears on the wire and in logs.
func (s Status) String() string {
	switch s {
	case IDLE:
		return "idle"
	case LOCKED:
		return "locked"
	case CANCELLED:
		return "cancelled"
	case COMPLETED:
		return "completed"
	default:
		return "unknown"
	}
}

// Exception captures a worker-supplied function's failure.  reason is
// a short message; traceback is whatever diagnostic text the Worker
// captured (a Go stack trace or formatted error chain).
type Exception struct {
	Reason    string `json:"reason"`
	Traceback string `json:"traceback"`
}

// Job is the single durable entity in the system.  See spec §3 for
// the full description of fields and invariants.
type Job struct {
	ID              string                 `json:"id"`
	Tag             string                 `json:"tag"`
	Args            map[string]interface{} `json:"args,omitempty"`
	Status          Status                 `json:"status"`
	Version         int                    `json:"version"`
	RunAt           time.Time              `json:"run_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at,omitempty"`
	LockedAt        time.Time              `json:"locked_at,omitempty"`
	CompletedAt     time.Time              `json:"completed_at,omitempty"`
	WorkerID        string                 `json:"worker_id,omitempty"`
	WorkerHeartbeat time.Time              `json:"worker_heartbeat,omitempty"`
	WorkerException *Exception             `json:"worker_exception,omitempty"`
}

// Clone returns a deep-enough copy of j safe to hand to a reader
// while the original continues to be mutated by its owner (the
// Controller or a Worker's context refresh).  Args is copied
// shallowly, since its values are opaque to the queue.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Args != nil {
		clone.Args = make(map[string]interface{}, len(j.Args))
		for k, v := range j.Args {
			clone.Args[k] = v
		}
	}
	if j.WorkerException != nil {
		excCopy := *j.WorkerException
		clone.WorkerException = &excCopy
	}
	return &clone
}

// Acquirable reports whether j, as of now, is a candidate for the
// "acquire an IDLE job" step of the leasing algorithm (spec §4.1 step
// 1): idle, matching run_at is not in the future. Store
// implementations use this so the acquisition predicate lives in one
// place instead of being reimplemented per adapter.
func (j *Job) Acquirable(now time.Time) bool {
	if j.Status != IDLE {
		return false
	}
	return j.RunAt.IsZero() || j.RunAt.Before(now) || j.RunAt.Equal(now)
}

// Reclaimable reports whether j is a candidate for the "reclaim an
// abandoned lease" step (spec §4.1 step 2): locked with a heartbeat
// older than the cutoff.
func (j *Job) Reclaimable(heartbeatCutoff time.Time) bool {
	if j.Status != LOCKED {
		return false
	}
	return j.WorkerHeartbeat.Before(heartbeatCutoff)
}

// HasTag reports whether j's tag is one of tags.  An empty tags slice
// matches nothing, per spec §4.1 ("match tag ∈ tags").
func (j *Job) HasTag(tags []string) bool {
	for _, t := range tags {
		if t == j.Tag {
			return true
		}
	}
	return false
}

// NewJobID generates a fresh opaque job id: a 128-bit random value
// rendered as 32 lowercase hex digits, per spec §3's recommendation.
// Uses github.com/satori/go.uuid, the id-generation library carried
// from the teacher repo (worker/worker.go, cmd/coordbench/main.go).
func NewJobID() string {
	id := uuid.NewV4()
	return hex.EncodeToString(id.Bytes())
}
