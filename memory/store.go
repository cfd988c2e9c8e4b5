// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package memory provides an in-process, in-memory implementation of
// queue.Store. There is no persistence and no cross-process sharing;
// the entire store is behind a single mutex, modeled directly on
// github.com/diffeo/go-coordinate's memory package ("tuned for
// correctness, not performance or scalability").
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/taskqueue/taskqueue/queue"
)

// Store is an in-memory queue.Store. The zero value is not usable;
// construct with New or NewWithClock. AcquireIdle and AcquireAbandoned
// take their notion of "now" as an explicit parameter (the Controller
// supplies it), so Store itself never reads the clock; NewWithClock
// exists so a test fixture can share one clock.Mock between the
// Controller and the Store it sits on, without the Store needing to
// do anything with it directly.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{jobs: make(map[string]*queue.Job)}
}

// NewWithClock creates an empty in-memory Store. clk is accepted for
// symmetry with the postgres and sqlite adapters' constructors, and
// so callers can keep one clock.Mock in a single variable shared
// across the Store and an overlying Controller.
func NewWithClock(clk clock.Clock) *Store {
	return New()
}

func (s *Store) CreateJob(ctx context.Context, j queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		// Invariant 1: duplicate id is a silent no-op.
		return nil
	}
	stored := j.Clone()
	s.jobs[j.ID] = stored
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return j.Clone(), nil
}

func (s *Store) CASUpdate(ctx context.Context, id string, expectVersion int, mutate func(*queue.Job)) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Version != expectVersion {
		return nil, &queue.ConcurrencyError{ID: id, ExpectedVersion: expectVersion}
	}
	updated := j.Clone()
	mutate(updated)
	updated.Version = j.Version + 1
	s.jobs[id] = updated
	return updated.Clone(), nil
}

func (s *Store) CASDelete(ctx context.Context, id string, expectVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Version != expectVersion {
		return &queue.ConcurrencyError{ID: id, ExpectedVersion: expectVersion}
	}
	delete(s.jobs, id)
	return nil
}

func (s *Store) AcquireIdle(ctx context.Context, tags []string, workerID string, now time.Time) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Go's map iteration order is randomized, which directly
	// satisfies spec §4.1's "tie-breaking across candidates is
	// unspecified."
	for id, j := range s.jobs {
		if !j.Acquirable(now) {
			continue
		}
		if !j.HasTag(tags) {
			continue
		}
		locked := j.Clone()
		locked.Status = queue.LOCKED
		locked.WorkerID = workerID
		locked.LockedAt = now
		locked.WorkerHeartbeat = now
		locked.Version = j.Version + 1
		s.jobs[id] = locked
		return locked.Clone(), nil
	}
	return nil, nil
}

func (s *Store) AcquireAbandoned(ctx context.Context, tags []string, workerID string, now, heartbeatCutoff time.Time) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		if !j.Reclaimable(heartbeatCutoff) {
			continue
		}
		if !j.HasTag(tags) {
			continue
		}
		reclaimed := j.Clone()
		reclaimed.WorkerID = workerID
		reclaimed.LockedAt = now
		reclaimed.WorkerHeartbeat = now
		reclaimed.Version = j.Version + 1
		s.jobs[id] = reclaimed
		return reclaimed.Clone(), nil
	}
	return nil, nil
}

var _ queue.Store = (*Store)(nil)
