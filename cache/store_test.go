// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package cache_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/cache"
	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/queue"
	"github.com/taskqueue/taskqueue/queue/queuetest"
)

func TestStoreConformance(t *testing.T) {
	clk := clock.NewMock()
	backend := memory.NewWithClock(clk)
	store := cache.New(backend)
	queuetest.Run(t, store, clk)
}

func TestGetJobReflectsCASUpdate(t *testing.T) {
	backend := memory.New()
	store := cache.NewSize(backend, 8)
	ctx := context.Background()

	id := queue.NewJobID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE}))

	first, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, first)

	updated, err := store.CASUpdate(ctx, id, 0, func(j *queue.Job) { j.Tag = "changed" })
	require.NoError(t, err)
	assert.Equal(t, "changed", updated.Tag)

	second, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "changed", second.Tag, "cache must reflect the mutation, not serve the pre-update copy")
}

func TestGetJobMissingAfterDelete(t *testing.T) {
	backend := memory.New()
	store := cache.NewSize(backend, 8)
	ctx := context.Background()

	id := queue.NewJobID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE}))
	_, err := store.GetJob(ctx, id)
	require.NoError(t, err)

	require.NoError(t, store.CASDelete(ctx, id, 0))

	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLRUEviction(t *testing.T) {
	backend := memory.New()
	store := cache.NewSize(backend, 2)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := queue.NewJobID()
		ids = append(ids, id)
		require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE}))
		_, err := store.GetJob(ctx, id)
		require.NoError(t, err)
	}

	// All three should still be fetchable from the backend even
	// though the cache only holds 2; this exercises the fetch-miss
	// path, not correctness of eviction bookkeeping itself.
	for _, id := range ids {
		j, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, j)
	}
}
