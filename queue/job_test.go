// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskqueue/taskqueue/queue"
)

func TestNewJobIDIsUniqueAndHex(t *testing.T) {
	a := queue.NewJobID()
	b := queue.NewJobID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestJobCloneIsIndependent(t *testing.T) {
	orig := &queue.Job{
		ID:              "j1",
		Args:            map[string]interface{}{"k": "v"},
		WorkerException: &queue.Exception{Reason: "boom"},
	}
	clone := orig.Clone()
	clone.Args["k"] = "changed"
	clone.WorkerException.Reason = "different"

	assert.Equal(t, "v", orig.Args["k"])
	assert.Equal(t, "boom", orig.WorkerException.Reason)
}

func TestJobCloneNil(t *testing.T) {
	var j *queue.Job
	assert.Nil(t, j.Clone())
}

func TestHasTag(t *testing.T) {
	j := &queue.Job{Tag: "render"}
	assert.True(t, j.HasTag([]string{"encode", "render"}))
	assert.False(t, j.HasTag([]string{"encode"}))
	assert.False(t, j.HasTag(nil))
}

func TestJobAcquirable(t *testing.T) {
	now := time.Now()
	idle := &queue.Job{Status: queue.IDLE}
	assert.True(t, idle.Acquirable(now), "zero RunAt is always due")

	idle.RunAt = now.Add(-time.Minute)
	assert.True(t, idle.Acquirable(now))

	idle.RunAt = now.Add(time.Minute)
	assert.False(t, idle.Acquirable(now), "future RunAt is not yet due")

	locked := &queue.Job{Status: queue.LOCKED}
	assert.False(t, locked.Acquirable(now))
}

func TestJobReclaimable(t *testing.T) {
	now := time.Now()
	locked := &queue.Job{Status: queue.LOCKED, WorkerHeartbeat: now.Add(-time.Hour)}
	assert.True(t, locked.Reclaimable(now))

	locked.WorkerHeartbeat = now.Add(time.Hour)
	assert.False(t, locked.Reclaimable(now), "recent heartbeat is not abandoned")

	idle := &queue.Job{Status: queue.IDLE, WorkerHeartbeat: now.Add(-time.Hour)}
	assert.False(t, idle.Reclaimable(now))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", queue.IDLE.String())
	assert.Equal(t, "locked", queue.LOCKED.String())
	assert.Equal(t, "cancelled", queue.CANCELLED.String())
	assert.Equal(t, "completed", queue.COMPLETED.String())
	assert.Equal(t, "unknown", queue.Status(99).String())
}
