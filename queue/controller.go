// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HeartbeatTimeout is the duration after which a LOCKED job with no
// successful heartbeat becomes eligible for reclamation by another
// worker (spec §4.1, §9 glossary).
const HeartbeatTimeout = 10 * time.Minute

// Producer is the capability set spec §9 assigns to job producers:
// create, inspect, cancel, and delete jobs. *Controller implements
// this interface.
type Producer interface {
	CreateJobID() string
	CreateJob(ctx context.Context, id, tag string, args map[string]interface{}, runAt time.Time) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	CancelJob(ctx context.Context, id string, version int) (*Job, error)
	DeleteJob(ctx context.Context, id string, version int) error
}

// WorkerAPI is the capability set spec §9 assigns to workers: acquire,
// heartbeat, finalize, requeue. *Controller implements this
// interface.
type WorkerAPI interface {
	AcquireJob(ctx context.Context, tags []string, workerID string) (*Job, error)
	HeartbeatJob(ctx context.Context, id string, version int) (*Job, error)
	FinalizeJob(ctx context.Context, id string, version int, exc *Exception) (*Job, error)
	RequeueJob(ctx context.Context, id string, version int, runAt time.Time) (*Job, error)
}

// Controller is the store-backed coordination layer: optimistic CRUD
// over jobs plus the leasing protocol (spec §4.1). It is the single
// implementation of both Producer and WorkerAPI, generally shared by
// every producer and worker process talking to one Store.
type Controller struct {
	Store Store

	// Clock defaults to real wall-clock time; tests inject a
	// benbjohnson/clock.Mock so HeartbeatTimeout boundaries and
	// run_at scheduling can be exercised without sleeping.
	Clock interface {
		Now() time.Time
	}

	// Log receives structured diagnostics. A nil Log is replaced
	// with a standard logrus.Logger at construction via New().
	Log *logrus.Entry

	metrics *controllerMetrics
}

type controllerMetrics struct {
	acquired  *prometheus.CounterVec
	finalized *prometheus.CounterVec
	conflicts prometheus.Counter
}

func newControllerMetrics(reg prometheus.Registerer) *controllerMetrics {
	m := &controllerMetrics{
		acquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskqueue",
			Name:      "jobs_acquired_total",
			Help:      "Jobs returned by AcquireJob, by result.",
		}, []string{"result"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskqueue",
			Name:      "jobs_finalized_total",
			Help:      "Jobs finalized, by outcome.",
		}, []string{"outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskqueue",
			Name:      "job_version_conflicts_total",
			Help:      "Optimistic-concurrency conflicts observed across all Controller operations.",
		}),
	}
	reg.MustRegister(m.acquired, m.finalized, m.conflicts)
	return m
}

// New creates a Controller over store, registering its metrics with
// reg (use prometheus.DefaultRegisterer for the global registry, or a
// fresh *prometheus.Registry in tests to avoid duplicate
// registration panics).
func New(store Store, reg prometheus.Registerer) *Controller {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Controller{
		Store:   store,
		Clock:   realClock{},
		Log:     logrus.NewEntry(logrus.StandardLogger()),
		metrics: newControllerMetrics(reg),
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (c *Controller) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

func (c *Controller) concurrencyConflict() {
	if c.metrics != nil {
		c.metrics.conflicts.Inc()
	}
}

// CreateJobID generates a fresh opaque id (spec §4.1).
func (c *Controller) CreateJobID() string {
	return NewJobID()
}

// CreateJob inserts a new IDLE job at version 0. Idempotent: a
// duplicate id is a silent no-op, per invariant 1.
func (c *Controller) CreateJob(ctx context.Context, id, tag string, args map[string]interface{}, runAt time.Time) (*Job, error) {
	j := Job{
		ID:        id,
		Tag:       tag,
		Args:      args,
		Status:    IDLE,
		Version:   0,
		RunAt:     runAt,
		CreatedAt: c.now(),
	}
	if err := c.Store.CreateJob(ctx, j); err != nil {
		return nil, Retriable(err)
	}
	return c.Store.GetJob(ctx, id)
}

// GetJob retrieves a job by id; nil, nil if it does not exist.
func (c *Controller) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := c.Store.GetJob(ctx, id)
	if err != nil {
		return nil, Retriable(err)
	}
	return j, nil
}

// CancelJob transitions a job to CANCELLED regardless of its current
// status (spec §3: "* -> CANCELLED"). Fails with a *ConcurrencyError
// on version mismatch.
func (c *Controller) CancelJob(ctx context.Context, id string, version int) (*Job, error) {
	j, err := c.Store.CASUpdate(ctx, id, version, func(j *Job) {
		j.Status = CANCELLED
		j.WorkerID = ""
		j.WorkerHeartbeat = time.Time{}
	})
	if err != nil {
		c.classifyMutationError(err)
		return nil, err
	}
	return j, nil
}

// DeleteJob removes the record if its version matches. Legal from any
// state (spec §3 invariant 5).
func (c *Controller) DeleteJob(ctx context.Context, id string, version int) error {
	err := c.Store.CASDelete(ctx, id, version)
	if err != nil {
		c.classifyMutationError(err)
	}
	return err
}

// AcquireJob implements the two-step leasing algorithm of spec §4.1:
// first try an IDLE job matching tags, then fall back to reclaiming
// an abandoned LOCKED job whose heartbeat is older than
// HeartbeatTimeout. Returns nil, nil if neither step finds a
// candidate.
func (c *Controller) AcquireJob(ctx context.Context, tags []string, workerID string) (*Job, error) {
	now := c.now()

	j, err := c.Store.AcquireIdle(ctx, tags, workerID, now)
	if err != nil {
		return nil, Retriable(err)
	}
	if j != nil {
		c.observeAcquire("idle")
		return j, nil
	}

	cutoff := now.Add(-HeartbeatTimeout)
	j, err = c.Store.AcquireAbandoned(ctx, tags, workerID, now, cutoff)
	if err != nil {
		return nil, Retriable(err)
	}
	if j != nil {
		c.observeAcquire("reclaimed")
		if c.Log != nil {
			c.Log.WithFields(logrus.Fields{
				"job_id":    j.ID,
				"worker_id": workerID,
			}).Warn("reclaimed abandoned job lease")
		}
		return j, nil
	}

	c.observeAcquire("none")
	return nil, nil
}

func (c *Controller) observeAcquire(result string) {
	if c.metrics != nil {
		c.metrics.acquired.WithLabelValues(result).Inc()
	}
}

// HeartbeatJob renews a lease: sets worker_heartbeat to now and bumps
// version. Fails with a *ConcurrencyError on mismatch, which the
// Worker treats as a signal to mark its context outdated (spec §4.3,
// §7), not as fatal.
func (c *Controller) HeartbeatJob(ctx context.Context, id string, version int) (*Job, error) {
	now := c.now()
	j, err := c.Store.CASUpdate(ctx, id, version, func(j *Job) {
		j.WorkerHeartbeat = now
	})
	if err != nil {
		c.classifyMutationError(err)
		return nil, err
	}
	return j, nil
}

// FinalizeJob transitions a job to COMPLETED, stamping completed_at
// and the optional exception captured from a failed worker-supplied
// function.
func (c *Controller) FinalizeJob(ctx context.Context, id string, version int, exc *Exception) (*Job, error) {
	now := c.now()
	j, err := c.Store.CASUpdate(ctx, id, version, func(j *Job) {
		j.Status = COMPLETED
		j.CompletedAt = now
		j.WorkerException = exc
		j.WorkerID = ""
		j.WorkerHeartbeat = time.Time{}
	})
	if err != nil {
		c.classifyMutationError(err)
		return nil, err
	}
	outcome := "completed"
	if exc != nil {
		outcome = "exception"
	}
	if c.metrics != nil {
		c.metrics.finalized.WithLabelValues(outcome).Inc()
	}
	return j, nil
}

// RequeueJob resets a job to IDLE, clearing worker_*, locked_at, and
// completed_at, and setting run_at (spec §4.1).
func (c *Controller) RequeueJob(ctx context.Context, id string, version int, runAt time.Time) (*Job, error) {
	j, err := c.Store.CASUpdate(ctx, id, version, func(j *Job) {
		j.Status = IDLE
		j.WorkerID = ""
		j.WorkerHeartbeat = time.Time{}
		j.LockedAt = time.Time{}
		j.CompletedAt = time.Time{}
		j.RunAt = runAt
	})
	if err != nil {
		c.classifyMutationError(err)
		return nil, err
	}
	return j, nil
}

// classifyMutationError marks the version-conflicts metric when err
// is a ConcurrencyError, and leaves all other errors untouched: they
// are returned to the caller exactly as the Store produced them, not
// wrapped in RetriableError.
func (c *Controller) classifyMutationError(err error) {
	if IsConcurrencyError(err) {
		c.concurrencyConflict()
	}
}

var _ Producer = (*Controller)(nil)
var _ WorkerAPI = (*Controller)(nil)
