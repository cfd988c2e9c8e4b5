// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue

import (
	"errors"
	"fmt"
)

// ErrInterruptJob is returned by Channel.InterruptIfRequested when the
// job has been cancelled or its lease revoked.  Worker-supplied
// functions should return it (or a wrapping error) immediately; it is
// not treated as a worker_exception.
var ErrInterruptJob = errors.New("job interrupted: cancelled or revoked")

// ErrRequeueRequested is returned by Channel.RequeueJob after it has
// recorded the requeue intent.  Worker-supplied functions should
// return it immediately to unwind.
var ErrRequeueRequested = errors.New("job requeue requested")

// ErrNoSuchJob reports that a job id does not exist. restserver sends
// it with its 404 response and the cache package uses it internally
// for a GetJob miss; Store and Controller methods report a missing job
// as nil, nil from GetJob and as a *ConcurrencyError from mutations.
var ErrNoSuchJob = errors.New("no such job")

// ErrAlreadyExists names the duplicate-id condition. No Store in this
// module returns it: their CreateJob treats a duplicate id as a silent
// no-op (invariant 1), and the Controller does not check for it.
var ErrAlreadyExists = errors.New("job already exists")

// RetriableError wraps a transient store/network failure.  Callers
// (in particular the Worker main loop) should back off exponentially
// and retry; it must never surface to worker-supplied user code.
type RetriableError struct {
	Cause error
}

func (e *RetriableError) Error() string {
	return fmt.Sprintf("retriable store error: %v", e.Cause)
}

func (e *RetriableError) Unwrap() error {
	return e.Cause
}

// Retriable wraps an arbitrary error as a RetriableError.  A nil
// argument returns nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	var re *RetriableError
	if errors.As(err, &re) {
		return err
	}
	return &RetriableError{Cause: err}
}

// ConcurrencyError signals a lost optimistic-concurrency race: the
// caller's version did not match the stored version, or no record
// existed at that version.  This is a normal, expected return
// condition, not an application error; Worker treats it as a signal
// to mark its JobContext outdated and re-decide on the next loop step.
type ConcurrencyError struct {
	ID              string
	ExpectedVersion int
	Cause           error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency error on job %s at version %d", e.ID, e.ExpectedVersion)
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Cause
}

// IsConcurrencyError reports whether err is, or wraps, a
// ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsRetriable reports whether err is, or wraps, a RetriableError.
func IsRetriable(err error) bool {
	var re *RetriableError
	return errors.As(err, &re)
}

// ErrMissingDatabase is a configuration error returned by storage
// constructors (postgres.New, sqlite.New) when the connection URI has
// no database/namespace component.  Per spec, this is fatal and must
// be surfaced to the embedder at startup, never retried.
var ErrMissingDatabase = errors.New("connection URI has no database/namespace component")
