// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package worker provides the per-process state machine that
// acquires, heartbeats, and finalizes jobs from a queue.Controller,
// running user code in a cooperative execution context. It
// generalizes github.com/diffeo/go-coordinate/worker's goroutine and
// clock.Ticker-driven main loop down to the one-job-at-a-time model
// spec §4.3 describes.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	uuid "github.com/satori/go.uuid"

	"github.com/taskqueue/taskqueue/queue"
)

// Func is the signature of worker-supplied job bodies (spec §6.2).
// Returning nil completes the job. Returning queue.ErrRequeueRequested
// (via Channel.RequeueJob) requeues it. Returning queue.ErrInterruptJob
// (via Channel.InterruptIfRequested, or observed from Channel.Done())
// means the task was interrupted; the Worker will not finalize it as
// a failure. Any other error completes the job with a
// worker_exception.
type Func func(*queue.Channel) error

// InterruptMode selects how the Worker reacts to a cancelled or
// revoked job while its task is running (spec §4.3).
type InterruptMode int

const (
	// Cooperative is the default: the task is expected to call
	// Channel.InterruptIfRequested at its own checkpoints. The
	// Worker never forcibly terminates it; it simply waits for the
	// task goroutine to exit on its own.
	Cooperative InterruptMode = iota

	// Async additionally closes the job context's Done() channel
	// once, as a best-effort escape for tasks that select on it.
	// This is not a guaranteed termination.
	Async
)

// minPoll and maxPoll bound the randomized interval used both for
// idle polling and for the heartbeat cadence while a task is running
// (spec §4.3, §9: "any equivalent ~1-3s randomized interval is
// acceptable").
const (
	minPoll = 2 * time.Second
	maxPoll = 3 * time.Second
)

// Worker runs one job at a time: a main loop that acquires,
// heartbeats, and finalizes/requeues jobs via API, and (while a job is
// active) a single task goroutine running Fn against a Channel.
type Worker struct {
	// API is the Controller (or restclient) this Worker leases jobs
	// from. Required.
	API queue.WorkerAPI

	// Tags declares the job tags this Worker serves; AcquireJob
	// only returns jobs whose tag is in this set.
	Tags []string

	// Resources is accepted for forward compatibility with a
	// future capability-vector Store (spec §9's open question) but
	// is not consulted by the tag-routing Controller.
	Resources map[string]float64

	// Fn is the job body to run for every acquired job.
	Fn Func

	// WorkerID identifies this worker's lease ownership. If unset,
	// a fresh one is generated in New.
	WorkerID string

	// InterruptMode selects cooperative-only (default) or
	// best-effort asynchronous interruption.
	InterruptMode InterruptMode

	// Clock defaults to the real wall clock; tests inject a
	// clock.Mock.
	Clock clock.Clock

	// Log receives structured diagnostics.
	Log *logrus.Entry

	// ErrorHandler, if set, is called for every retriable store
	// error encountered by the main loop. Store errors are never
	// fatal to the Worker.
	ErrorHandler func(error)

	mu            sync.Mutex
	stopRequested bool
	forceStopped  bool
	retryDelay    time.Duration

	active   *activeJob
	stopped  chan struct{}
	stopOnce sync.Once
}

// activeJob bundles a running task with the job context it shares with
// the main loop.
type activeJob struct {
	jobCtx *queue.Context
	done   chan struct{}
	err    error
}

// New constructs a Worker ready to Run. tags must be non-empty for
// the worker to ever acquire anything.
func New(api queue.WorkerAPI, tags []string, fn Func) *Worker {
	w := &Worker{
		API:     api,
		Tags:    tags,
		Fn:      fn,
		Clock:   clock.New(),
		Log:     logrus.NewEntry(logrus.StandardLogger()),
		stopped: make(chan struct{}),
	}
	w.setDefaults()
	return w
}

func (w *Worker) setDefaults() {
	if w.WorkerID == "" {
		w.WorkerID = uuid.NewV4().String()
	}
	if w.Clock == nil {
		w.Clock = clock.New()
	}
	if w.Log == nil {
		w.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// randomPoll returns a randomized duration in [minPoll, maxPoll),
// jittering the idle-poll and heartbeat cadence to avoid thundering
// herds (spec §4.3, §9).
func randomPoll() time.Duration {
	span := maxPoll - minPoll
	return minPoll + time.Duration(rand.Int63n(int64(span)))
}

// Run executes the main loop until RequestStop is called and any
// active job has been finalized or requeued, or until ForceStop is
// called. A cancelled ctx is treated as a RequestStop. It is safe to
// call exactly once per Worker.
func (w *Worker) Run(ctx context.Context) error {
	w.setDefaults()
	for {
		select {
		case <-ctx.Done():
			w.RequestStop()
		default:
		}

		done, err := w.step(ctx)
		if done {
			w.stopOnce.Do(func() { close(w.stopped) })
			return nil
		}
		if err != nil {
			w.onStoreError(err)
		} else {
			w.resetBackoff()
		}
	}
}

// RequestStop asks the main loop to exit once the active job (if any)
// is finalized or requeued (spec §4.3's request_stop()).
func (w *Worker) RequestStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopRequested = true
}

// ForceStop asks the main loop to exit immediately, abandoning any
// active job's lease to expire naturally (it will be reclaimed by
// another worker after queue.HeartbeatTimeout).
func (w *Worker) ForceStop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopRequested = true
	w.forceStopped = true
}

// Join blocks until the main loop has exited, checking in short
// increments so it remains responsive to host-process signals (spec
// §4.3). It returns early if ctx is done.
func (w *Worker) Join(ctx context.Context) error {
	for {
		select {
		case <-w.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (w *Worker) shutdownRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopRequested
}

func (w *Worker) forceStopRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.forceStopped
}

func (w *Worker) backoff() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retryDelay
}

func (w *Worker) onStoreError(err error) {
	w.mu.Lock()
	if w.retryDelay == 0 {
		w.retryDelay = time.Second
	} else {
		w.retryDelay *= 2
		if w.retryDelay > 10*time.Second {
			w.retryDelay = 10 * time.Second
		}
	}
	delay := w.retryDelay
	w.mu.Unlock()

	if w.ErrorHandler != nil {
		w.ErrorHandler(err)
	}
	if w.Log != nil {
		w.Log.WithError(err).WithField("backoff", delay).Warn("store error, backing off")
	}
}

func (w *Worker) resetBackoff() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retryDelay = 0
}

// step executes exactly one loop iteration per spec §4.3's ordered
// checks, returning done=true once the Worker may exit.
func (w *Worker) step(ctx context.Context) (done bool, err error) {
	if w.shutdownRequested() && w.active == nil {
		return true, nil
	}
	if w.forceStopRequested() {
		return true, nil
	}
	if d := w.backoff(); d > 0 {
		w.Clock.Sleep(d)
	}

	switch {
	case w.active == nil:
		return false, w.acquireStep(ctx)

	case w.active.jobCtx.Outdated():
		return false, w.refreshStep(ctx)

	case w.active.jobCtx.Cancelled() || w.active.jobCtx.Revoked():
		w.reactToRevocationOrCancellation()
		return false, nil

	case w.taskAlive():
		return false, w.heartbeatStep(ctx)

	default:
		return false, w.finishStep(ctx)
	}
}

func (w *Worker) taskAlive() bool {
	select {
	case <-w.active.done:
		return false
	default:
		return true
	}
}

// acquireStep tries to acquire a job; on success starts the task
// goroutine, on an empty result sleeps a randomized interval.
func (w *Worker) acquireStep(ctx context.Context) error {
	job, err := w.API.AcquireJob(ctx, w.Tags, w.WorkerID)
	if err != nil {
		return err
	}
	if job == nil {
		w.Clock.Sleep(randomPoll())
		return nil
	}

	jobCtx := queue.NewContext(w.WorkerID, job)
	done := make(chan struct{})
	aj := &activeJob{jobCtx: jobCtx, done: done}
	w.active = aj

	go w.runTask(aj)
	return nil
}

func (w *Worker) runTask(aj *activeJob) {
	defer close(aj.done)
	ch := queue.NewChannel(aj.jobCtx)
	aj.err = w.Fn(ch)
}

// refreshStep re-reads the job and clears Outdated, letting the next
// step observe newly seen cancellation or revocation. A Worker's API
// must also implement a GetJob method for this to actually refresh;
// *queue.Controller and restclient.Client both do.
func (w *Worker) refreshStep(ctx context.Context) error {
	getter, ok := w.API.(interface {
		GetJob(context.Context, string) (*queue.Job, error)
	})
	if !ok {
		w.active.jobCtx.SetJob(w.active.jobCtx.Job())
		return nil
	}
	job, err := getter.GetJob(ctx, w.active.jobCtx.Job().ID)
	if err != nil {
		return err
	}
	if job != nil {
		w.active.jobCtx.SetJob(job)
	}
	return nil
}

// reactToRevocationOrCancellation waits for the task to exit
// (optionally injecting a best-effort interrupt) and drops the
// context, per spec §4.3.
func (w *Worker) reactToRevocationOrCancellation() {
	if w.InterruptMode == Async {
		w.active.jobCtx.InterruptAsync()
	}
	<-w.active.done
	w.active = nil
}

// heartbeatStep renews the lease while the task is alive.
func (w *Worker) heartbeatStep(ctx context.Context) error {
	job := w.active.jobCtx.Job()
	updated, err := w.API.HeartbeatJob(ctx, job.ID, job.Version)
	if err != nil {
		if queue.IsConcurrencyError(err) {
			w.active.jobCtx.MarkOutdated()
			return nil
		}
		return err
	}
	w.active.jobCtx.SetJob(updated)
	w.Clock.Sleep(randomPoll())
	return nil
}

// finishStep runs once the task has exited, either requeuing or
// finalizing depending on what the task requested.
func (w *Worker) finishStep(ctx context.Context) error {
	job := w.active.jobCtx.Job()

	if requeue, runAt := w.active.jobCtx.RequeueRequested(); requeue {
		_, err := w.API.RequeueJob(ctx, job.ID, job.Version, runAt)
		if err != nil {
			if queue.IsConcurrencyError(err) {
				w.active.jobCtx.MarkOutdated()
				return nil
			}
			return err
		}
		w.active = nil
		return nil
	}

	exc := exceptionFor(w.active.err)
	_, err := w.API.FinalizeJob(ctx, job.ID, job.Version, exc)
	if err != nil {
		if queue.IsConcurrencyError(err) {
			w.active.jobCtx.MarkOutdated()
			return nil
		}
		return err
	}
	w.active = nil
	return nil
}

// exceptionFor converts a task's returned error into the
// worker_exception recorded on the job (spec §6.2). Returning nil, or
// queue.ErrInterruptJob, never produces an exception: ErrInterruptJob
// means the task was interrupted by revocation or cancellation, which
// is not a failure of user code.
func exceptionFor(err error) *queue.Exception {
	if err == nil {
		return nil
	}
	if errors.Is(err, queue.ErrInterruptJob) {
		return nil
	}
	return &queue.Exception{
		Reason:    err.Error(),
		Traceback: err.Error(),
	}
}
