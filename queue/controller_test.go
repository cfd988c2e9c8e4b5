// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/queue"
)

func newTestController(t *testing.T) (*queue.Controller, *clock.Mock) {
	clk := clock.NewMock()
	ctrl := queue.New(memory.New(), prometheus.NewRegistry())
	ctrl.Clock = clk
	return ctrl, clk
}

func TestControllerCreateJobIsIdempotent(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	first, err := ctrl.CreateJob(ctx, id, "render", map[string]interface{}{"n": 1.0}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, queue.IDLE, first.Status)

	second, err := ctrl.CreateJob(ctx, id, "different-tag", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "render", second.Tag, "duplicate create must not overwrite the existing job")
}

func TestControllerAcquireHeartbeatFinalize(t *testing.T) {
	ctrl, clk := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)

	acquired, err := ctrl.AcquireJob(ctx, []string{"render"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.Equal(t, queue.LOCKED, acquired.Status)
	assert.Equal(t, "worker-1", acquired.WorkerID)

	clk.Add(time.Minute)
	heartbeated, err := ctrl.HeartbeatJob(ctx, id, acquired.Version)
	require.NoError(t, err)
	assert.Equal(t, acquired.Version+1, heartbeated.Version)

	finalized, err := ctrl.FinalizeJob(ctx, id, heartbeated.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, queue.COMPLETED, finalized.Status)
	assert.Empty(t, finalized.WorkerID)
}

func TestControllerFinalizeWithExceptionKeepsTerminal(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)
	acquired, err := ctrl.AcquireJob(ctx, []string{"render"}, "w1")
	require.NoError(t, err)

	exc := &queue.Exception{Reason: "boom", Traceback: "stack"}
	finalized, err := ctrl.FinalizeJob(ctx, id, acquired.Version, exc)
	require.NoError(t, err)
	assert.Equal(t, queue.COMPLETED, finalized.Status)
	require.NotNil(t, finalized.WorkerException)
	assert.Equal(t, "boom", finalized.WorkerException.Reason)
}

func TestControllerRequeueJobResetsToIdle(t *testing.T) {
	ctrl, clk := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)
	acquired, err := ctrl.AcquireJob(ctx, []string{"render"}, "w1")
	require.NoError(t, err)

	future := clk.Now().Add(time.Hour)
	requeued, err := ctrl.RequeueJob(ctx, id, acquired.Version, future)
	require.NoError(t, err)
	assert.Equal(t, queue.IDLE, requeued.Status)
	assert.Empty(t, requeued.WorkerID)
	assert.Equal(t, future, requeued.RunAt)

	notYet, err := ctrl.AcquireJob(ctx, []string{"render"}, "w2")
	require.NoError(t, err)
	assert.Nil(t, notYet, "job scheduled in the future must not be acquirable yet")

	clk.Add(time.Hour + time.Second)
	acquiredAgain, err := ctrl.AcquireJob(ctx, []string{"render"}, "w2")
	require.NoError(t, err)
	require.NotNil(t, acquiredAgain)
	assert.Equal(t, id, acquiredAgain.ID)
}

func TestControllerCancelJobFromAnyStatus(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)
	acquired, err := ctrl.AcquireJob(ctx, []string{"render"}, "w1")
	require.NoError(t, err)

	cancelled, err := ctrl.CancelJob(ctx, id, acquired.Version)
	require.NoError(t, err)
	assert.Equal(t, queue.CANCELLED, cancelled.Status)
}

func TestControllerDeleteJobVersionConflict(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)

	err = ctrl.DeleteJob(ctx, id, 99)
	require.Error(t, err)
	assert.True(t, queue.IsConcurrencyError(err))

	require.NoError(t, ctrl.DeleteJob(ctx, id, 0))
	got, err := ctrl.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestControllerAcquireReclaimsAbandonedLease(t *testing.T) {
	ctrl, clk := newTestController(t)
	ctx := context.Background()

	id := ctrl.CreateJobID()
	_, err := ctrl.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)
	_, err = ctrl.AcquireJob(ctx, []string{"render"}, "ghost")
	require.NoError(t, err)

	stillLocked, err := ctrl.AcquireJob(ctx, []string{"render"}, "rescuer")
	require.NoError(t, err)
	assert.Nil(t, stillLocked, "heartbeat has not aged past the cutoff yet")

	clk.Add(queue.HeartbeatTimeout + time.Minute)
	reclaimed, err := ctrl.AcquireJob(ctx, []string{"render"}, "rescuer")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "rescuer", reclaimed.WorkerID)
}

func TestControllerAcquireJobNoneMatches(t *testing.T) {
	ctrl, _ := newTestController(t)
	got, err := ctrl.AcquireJob(context.Background(), []string{"nothing-here"}, "w1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
