// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package restserver_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/queue"
	"github.com/taskqueue/taskqueue/restclient"
	"github.com/taskqueue/taskqueue/restserver"
)

func newTestServer(t *testing.T) (*httptest.Server, *restclient.Client) {
	ctrl := queue.New(memory.New(), prometheus.NewRegistry())
	ts := httptest.NewServer(restserver.NewRouter(ctrl, nil))
	t.Cleanup(ts.Close)
	return ts, restclient.New(ts.URL)
}

func TestRESTCreateAndGetJob(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id := client.CreateJobID()
	created, err := client.CreateJob(ctx, id, "render", map[string]interface{}{"frame": float64(1)}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
	assert.Equal(t, queue.IDLE, created.Status)

	fetched, err := client.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "render", fetched.Tag)
}

func TestRESTGetJobMissing(t *testing.T) {
	_, client := newTestServer(t)
	j, err := client.GetJob(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestRESTAcquireHeartbeatFinalize(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id := client.CreateJobID()
	_, err := client.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)

	acquired, err := client.AcquireJob(ctx, []string{"render"}, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.Equal(t, queue.LOCKED, acquired.Status)

	heartbeated, err := client.HeartbeatJob(ctx, id, acquired.Version)
	require.NoError(t, err)
	assert.Equal(t, acquired.Version+1, heartbeated.Version)

	finalized, err := client.FinalizeJob(ctx, id, heartbeated.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, queue.COMPLETED, finalized.Status)
}

func TestRESTAcquireEmptyReturnsNil(t *testing.T) {
	_, client := newTestServer(t)
	j, err := client.AcquireJob(context.Background(), []string{"nothing-here"}, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestRESTVersionConflictIsConcurrencyError(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id := client.CreateJobID()
	_, err := client.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)

	_, err = client.CancelJob(ctx, id, 99)
	require.Error(t, err)
	assert.True(t, queue.IsConcurrencyError(err))
}

func TestRESTDeleteJob(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id := client.CreateJobID()
	_, err := client.CreateJob(ctx, id, "render", nil, time.Time{})
	require.NoError(t, err)

	require.NoError(t, client.DeleteJob(ctx, id, 0))

	j, err := client.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, j)
}
