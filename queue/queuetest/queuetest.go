// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

// Package queuetest provides a generic conformance suite for
// queue.Store implementations, adapted from the teacher's
// coordinate/coordinatetest package. Where coordinatetest is built on
// gopkg.in/check.v1, Run here is a plain stretchr/testify-based
// function of subtests, since testify is this module's test
// dependency throughout. A backend package's test file typically
// looks like:
//
//	func TestStoreConformance(t *testing.T) {
//	    clk := clock.NewMock()
//	    store := mybackend.NewWithClock(clk)
//	    queuetest.Run(t, store, clk)
//	}
package queuetest

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/queue"
)

// Run exercises store against every quantified invariant and
// boundary case in spec §3/§4.1/§8. clk is used to advance past
// run_at and queue.HeartbeatTimeout boundaries: the run_at and
// heartbeat-cutoff subtests derive every "now" and cutoff they pass
// to the Store from clk. Store methods take time as explicit
// parameters, so the Store never reads clk itself; the subtests
// without a time boundary pass time.Now().
func Run(t *testing.T, store queue.Store, clk *clock.Mock) {
	t.Run("CreateJobIsIdempotent", func(t *testing.T) { testCreateJobIdempotent(t, store) })
	t.Run("GetJobMissingIsNilNil", func(t *testing.T) { testGetJobMissing(t, store) })
	t.Run("CASUpdateRejectsStaleVersion", func(t *testing.T) { testCASUpdateStaleVersion(t, store) })
	t.Run("CASDeleteRejectsStaleVersion", func(t *testing.T) { testCASDeleteStaleVersion(t, store) })
	t.Run("CASDeleteLegalFromAnyStatus", func(t *testing.T) { testCASDeleteAnyStatus(t, store) })
	t.Run("AcquireIdleRespectsTag", func(t *testing.T) { testAcquireIdleTag(t, store) })
	t.Run("AcquireIdleRespectsRunAt", func(t *testing.T) { testAcquireIdleRunAt(t, store, clk) })
	t.Run("AcquireIdleTwiceReturnsDistinctJobs", func(t *testing.T) { testAcquireIdleTwice(t, store) })
	t.Run("AcquireAbandonedRespectsHeartbeatCutoff", func(t *testing.T) { testAcquireAbandoned(t, store, clk) })
}

func freshID() string { return queue.NewJobID() }

func testCreateJobIdempotent(t *testing.T, store queue.Store) {
	ctx := context.Background()
	id := freshID()
	j := queue.Job{ID: id, Tag: "t", Status: queue.IDLE, Version: 0}

	require.NoError(t, store.CreateJob(ctx, j))
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "different", Status: queue.IDLE, Version: 0}))

	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "t", got.Tag)
}

func testGetJobMissing(t *testing.T, store queue.Store) {
	got, err := store.GetJob(context.Background(), freshID())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testCASUpdateStaleVersion(t *testing.T, store queue.Store) {
	ctx := context.Background()
	id := freshID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE, Version: 0}))

	_, err := store.CASUpdate(ctx, id, 7, func(j *queue.Job) { j.Status = queue.CANCELLED })
	require.Error(t, err)
	assert.True(t, queue.IsConcurrencyError(err))

	updated, err := store.CASUpdate(ctx, id, 0, func(j *queue.Job) { j.Status = queue.CANCELLED })
	require.NoError(t, err)
	assert.Equal(t, queue.CANCELLED, updated.Status)
	assert.Equal(t, 1, updated.Version)
}

func testCASDeleteStaleVersion(t *testing.T, store queue.Store) {
	ctx := context.Background()
	id := freshID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE, Version: 0}))

	err := store.CASDelete(ctx, id, 9)
	require.Error(t, err)
	assert.True(t, queue.IsConcurrencyError(err))

	require.NoError(t, store.CASDelete(ctx, id, 0))
	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testCASDeleteAnyStatus(t *testing.T, store queue.Store) {
	ctx := context.Background()
	id := freshID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "t", Status: queue.IDLE, Version: 0}))
	j, err := store.CASUpdate(ctx, id, 0, func(j *queue.Job) { j.Status = queue.LOCKED; j.WorkerID = "w" })
	require.NoError(t, err)

	require.NoError(t, store.CASDelete(ctx, id, j.Version))
}

func testAcquireIdleTag(t *testing.T, store queue.Store) {
	ctx := context.Background()
	now := time.Now()
	idWrong := freshID()
	idRight := freshID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: idWrong, Tag: "other", Status: queue.IDLE}))
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: idRight, Tag: "mine", Status: queue.IDLE}))

	got, err := store.AcquireIdle(ctx, []string{"mine"}, "w1", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, idRight, got.ID)
	assert.Equal(t, queue.LOCKED, got.Status)
	assert.Equal(t, "w1", got.WorkerID)

	got2, err := store.AcquireIdle(ctx, []string{"mine"}, "w2", now)
	require.NoError(t, err)
	assert.Nil(t, got2)
}

func testAcquireIdleRunAt(t *testing.T, store queue.Store, clk *clock.Mock) {
	ctx := context.Background()
	id := freshID()
	future := clk.Now().Add(time.Hour)
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "scheduled", Status: queue.IDLE, RunAt: future}))

	got, err := store.AcquireIdle(ctx, []string{"scheduled"}, "w1", clk.Now())
	require.NoError(t, err)
	assert.Nil(t, got, "a job scheduled in the future must not be acquirable yet")

	got, err = store.AcquireIdle(ctx, []string{"scheduled"}, "w1", future)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
}

func testAcquireIdleTwice(t *testing.T, store queue.Store) {
	ctx := context.Background()
	now := time.Now()
	var ids []string
	for i := 0; i < 2; i++ {
		id := freshID()
		ids = append(ids, id)
		require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "pair", Status: queue.IDLE}))
	}

	first, err := store.AcquireIdle(ctx, []string{"pair"}, "w1", now)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := store.AcquireIdle(ctx, []string{"pair"}, "w2", now)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.NotEqual(t, first.ID, second.ID)
	assert.ElementsMatch(t, ids, []string{first.ID, second.ID})
}

func testAcquireAbandoned(t *testing.T, store queue.Store, clk *clock.Mock) {
	ctx := context.Background()
	id := freshID()
	require.NoError(t, store.CreateJob(ctx, queue.Job{ID: id, Tag: "abandoned", Status: queue.IDLE}))

	locked, err := store.AcquireIdle(ctx, []string{"abandoned"}, "ghost", clk.Now())
	require.NoError(t, err)
	require.NotNil(t, locked)

	cutoff := clk.Now().Add(-queue.HeartbeatTimeout)
	got, err := store.AcquireAbandoned(ctx, []string{"abandoned"}, "rescuer", clk.Now(), cutoff)
	require.NoError(t, err)
	assert.Nil(t, got, "heartbeat has not aged past the cutoff yet")

	clk.Add(queue.HeartbeatTimeout + time.Minute)
	cutoff = clk.Now().Add(-queue.HeartbeatTimeout)
	got, err = store.AcquireAbandoned(ctx, []string{"abandoned"}, "rescuer", clk.Now(), cutoff)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "rescuer", got.WorkerID)
}
