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

func TestAuthRejectsUnsignedRequest(t *testing.T) {
	secret := []byte("test-secret")
	ctrl := queue.New(memory.New(), prometheus.NewRegistry())
	ts := httptest.NewServer(restserver.NewRouterWithAuth(ctrl, nil, secret))
	t.Cleanup(ts.Close)

	unsigned := restclient.New(ts.URL)
	_, err := unsigned.CreateJob(context.Background(), unsigned.CreateJobID(), "render", nil, time.Time{})
	require.Error(t, err)

	var statusErr *restclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Code)
}

func TestAuthAcceptsSignedRequest(t *testing.T) {
	secret := []byte("test-secret")
	ctrl := queue.New(memory.New(), prometheus.NewRegistry())
	ts := httptest.NewServer(restserver.NewRouterWithAuth(ctrl, nil, secret))
	t.Cleanup(ts.Close)

	signed := restclient.New(ts.URL)
	signed.AuthSecret = secret
	id := signed.CreateJobID()
	created, err := signed.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, id, created.ID)
}
