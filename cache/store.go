// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package cache provides a name-based caching decorator over
// queue.Store, adapted from the teacher's cache package: the same
// LRU (lru.go, kept verbatim) now keyed on job id instead of
// Coordinate object name.
//
// Caveats
//
// Only GetJob is cached. AcquireIdle and AcquireAbandoned scan for an
// arbitrary candidate job and have no single id to key on, so they
// always pass through to the underlying Store; their post-image is
// still used to refresh the cache entry for the job they returned.
package cache

import (
	"context"
	"time"

	"github.com/taskqueue/taskqueue/queue"
)

// DefaultSize is used by New when no capacity is given.
const DefaultSize = 4096

// cachedJob adapts *queue.Job to the lru package's named interface.
type cachedJob struct {
	*queue.Job
}

func (c cachedJob) Name() string { return c.ID }

// Store wraps an underlying queue.Store, caching GetJob lookups.
// Every mutation (CASUpdate, CASDelete, AcquireIdle, AcquireAbandoned)
// invalidates or refreshes the affected entry so readers never observe
// a stale job past the mutation that produced it.
type Store struct {
	backend queue.Store
	cache   *lru
}

// New wraps backend with an LRU cache of DefaultSize entries.
func New(backend queue.Store) *Store {
	return NewSize(backend, DefaultSize)
}

// NewSize wraps backend with an LRU cache of the given capacity.
func NewSize(backend queue.Store, size int) *Store {
	return &Store{backend: backend, cache: newLRU(size)}
}

func (s *Store) CreateJob(ctx context.Context, j queue.Job) error {
	if err := s.backend.CreateJob(ctx, j); err != nil {
		return err
	}
	// CreateJob is a no-op on a duplicate id; only cache the first
	// writer's view by re-fetching from the backend.
	stored, err := s.backend.GetJob(ctx, j.ID)
	if err == nil && stored != nil {
		s.cache.Put(cachedJob{stored})
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	item, err := s.cache.Get(id, func(id string) (named, error) {
		j, err := s.backend.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if j == nil {
			return nil, queue.ErrNoSuchJob
		}
		return cachedJob{j}, nil
	})
	if err == queue.ErrNoSuchJob {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.(cachedJob).Job, nil
}

func (s *Store) CASUpdate(ctx context.Context, id string, expectVersion int, mutate func(*queue.Job)) (*queue.Job, error) {
	j, err := s.backend.CASUpdate(ctx, id, expectVersion, mutate)
	if err != nil {
		s.cache.Remove(id)
		return nil, err
	}
	s.cache.Put(cachedJob{j})
	return j, nil
}

func (s *Store) CASDelete(ctx context.Context, id string, expectVersion int) error {
	err := s.backend.CASDelete(ctx, id, expectVersion)
	s.cache.Remove(id)
	return err
}

func (s *Store) AcquireIdle(ctx context.Context, tags []string, workerID string, now time.Time) (*queue.Job, error) {
	j, err := s.backend.AcquireIdle(ctx, tags, workerID, now)
	if err != nil {
		return nil, err
	}
	if j != nil {
		s.cache.Put(cachedJob{j})
	}
	return j, nil
}

func (s *Store) AcquireAbandoned(ctx context.Context, tags []string, workerID string, now, heartbeatCutoff time.Time) (*queue.Job, error) {
	j, err := s.backend.AcquireAbandoned(ctx, tags, workerID, now, heartbeatCutoff)
	if err != nil {
		return nil, err
	}
	if j != nil {
		s.cache.Put(cachedJob{j})
	}
	return j, nil
}

var _ queue.Store = (*Store)(nil)
