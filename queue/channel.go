// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue

import (
	"sync"
	"time"
)

// Context is the private, Worker-owned state backing a Channel. Only
// the Worker's main loop mutates it (by refreshing the job snapshot
// or observing requeue intent); the task goroutine only reads through
// the Channel. Spec §4.2.
type Context struct {
	mu sync.Mutex

	workerID string
	job      *Job

	// outdated is set by the main loop when a heartbeat or finalize
	// call reports a concurrency error, forcing a refresh before
	// the next decision.
	outdated bool

	requeueRequested bool
	requeueFor       time.Time

	done     chan struct{}
	closeOne sync.Once
}

// NewContext creates a fresh JobContext for a just-acquired job.
func NewContext(workerID string, job *Job) *Context {
	return &Context{workerID: workerID, job: job, done: make(chan struct{})}
}

// InterruptAsync closes the context's done channel exactly once. This
// is the Go-idiomatic substitute for the original source's
// thread-injected exception (spec §9): a Worker running in
// Asynchronous interrupt mode calls this when it observes
// Cancelled()/Revoked(), giving the task goroutine a best-effort,
// one-shot signal to unwind via Channel.Done(), in addition to the
// cooperative InterruptIfRequested check.
func (c *Context) InterruptAsync() {
	c.closeOne.Do(func() {
		close(c.done)
	})
}

// Done returns a channel that is closed when InterruptAsync has been
// called.
func (c *Context) Done() <-chan struct{} {
	return c.done
}

// Job returns the current snapshot.
func (c *Context) Job() *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job.Clone()
}

// SetJob replaces the snapshot, e.g. after a refresh or a successful
// heartbeat/finalize/requeue call. Clears Outdated.
func (c *Context) SetJob(j *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.job = j
	c.outdated = false
}

// MarkOutdated flags the context for a refresh on the next loop step.
func (c *Context) MarkOutdated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outdated = true
}

// Outdated reports whether a refresh is pending.
func (c *Context) Outdated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outdated
}

// Cancelled reports whether the last-observed status is CANCELLED.
func (c *Context) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil && c.job.Status == CANCELLED
}

// Revoked reports whether the last-observed worker_id no longer
// matches this context's worker (lease stolen by a reclaimer).
func (c *Context) Revoked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job != nil && c.job.WorkerID != "" && c.job.WorkerID != c.workerID
}

// RequestRequeue records a requeue intent for the main loop to act on
// once the task goroutine exits. run_at is the earliest instant the
// requeued job should be acquirable again; a zero value means "now".
func (c *Context) RequestRequeue(runAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requeueRequested = true
	c.requeueFor = runAt
}

// RequeueRequested reports whether RequestRequeue was called, and the
// run_at it was called with.
func (c *Context) RequeueRequested() (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requeueRequested, c.requeueFor
}

// Channel is the narrow surface a worker-supplied function sees. It
// is a thin, read-mostly view over a Context: spec §4.2.
type Channel struct {
	ctx *Context
}

// NewChannel wraps ctx in a Channel for handoff to user code.
func NewChannel(ctx *Context) *Channel {
	return &Channel{ctx: ctx}
}

// Job returns a read-only snapshot of the current job.
func (c *Channel) Job() *Job {
	return c.ctx.Job()
}

// Cancelled reports whether the latest observed status is CANCELLED.
func (c *Channel) Cancelled() bool {
	return c.ctx.Cancelled()
}

// Revoked reports whether the lease has been stolen by a reclaimer.
func (c *Channel) Revoked() bool {
	return c.ctx.Revoked()
}

// InterruptIfRequested returns ErrInterruptJob if Cancelled() or
// Revoked() is true, and nil otherwise. Worker-supplied functions are
// expected to call this at cooperative checkpoints and return
// immediately when it is non-nil (spec §4.2, §6.2).
func (c *Channel) InterruptIfRequested() error {
	if c.Cancelled() || c.Revoked() {
		return ErrInterruptJob
	}
	return nil
}

// RequeueJob records a requeue intent with the given earliest-run
// time (zero means "now") and returns ErrRequeueRequested so the
// caller can unwind immediately (spec §4.2, §6.2).
func (c *Channel) RequeueJob(runAt time.Time) error {
	c.ctx.RequestRequeue(runAt)
	return ErrRequeueRequested
}

// Done returns a channel that is closed when the Worker has injected
// a best-effort asynchronous interrupt (worker.Async mode only; in
// worker.Cooperative mode, the default, this channel is never
// closed). User code that wants to react to this in a select
// alongside its own work should treat it exactly like
// InterruptIfRequested: stop and return ErrInterruptJob.
func (c *Channel) Done() <-chan struct{} {
	return c.ctx.Done()
}
