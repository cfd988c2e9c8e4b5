// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/queue"
)

func TestChannelInterruptIfRequestedCancelled(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{Status: queue.CANCELLED})
	ch := queue.NewChannel(ctx)
	assert.ErrorIs(t, ch.InterruptIfRequested(), queue.ErrInterruptJob)
}

func TestChannelInterruptIfRequestedRevoked(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{Status: queue.LOCKED, WorkerID: "w2"})
	ch := queue.NewChannel(ctx)
	assert.ErrorIs(t, ch.InterruptIfRequested(), queue.ErrInterruptJob)
}

func TestChannelInterruptIfRequestedHealthy(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{Status: queue.LOCKED, WorkerID: "w1"})
	ch := queue.NewChannel(ctx)
	assert.NoError(t, ch.InterruptIfRequested())
}

func TestChannelRequeueJob(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{Status: queue.LOCKED, WorkerID: "w1"})
	ch := queue.NewChannel(ctx)

	runAt := time.Now().Add(time.Minute)
	err := ch.RequeueJob(runAt)
	assert.ErrorIs(t, err, queue.ErrRequeueRequested)

	requested, got := ctx.RequeueRequested()
	require.True(t, requested)
	assert.Equal(t, runAt, got)
}

func TestChannelJobIsASnapshotNotALiveView(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{ID: "j1", Status: queue.LOCKED, WorkerID: "w1"})
	ch := queue.NewChannel(ctx)

	snap := ch.Job()
	ctx.SetJob(&queue.Job{ID: "j1", Status: queue.CANCELLED})

	assert.Equal(t, queue.LOCKED, snap.Status, "snapshot must not change after the context refreshes")
	assert.True(t, ch.Cancelled())
}

func TestContextInterruptAsyncIdempotent(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{})
	ctx.InterruptAsync()
	ctx.InterruptAsync()

	select {
	case <-ctx.Done():
	default:
		t.Fatal("Done() channel should be closed after InterruptAsync")
	}
}

func TestContextMarkOutdated(t *testing.T) {
	ctx := queue.NewContext("w1", &queue.Job{})
	assert.False(t, ctx.Outdated())
	ctx.MarkOutdated()
	assert.True(t, ctx.Outdated())
	ctx.SetJob(&queue.Job{})
	assert.False(t, ctx.Outdated(), "SetJob clears the outdated flag")
}
