// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package postgres_test

import (
	"os"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/postgres"
	"github.com/taskqueue/taskqueue/queue/queuetest"
)

// TestStoreConformance runs the shared queue.Store conformance suite
// against a real PostgreSQL database. It is skipped unless
// TASKQUEUE_POSTGRES_URL names a reachable, disposable database: these
// tests run migrations and freely create/delete rows.
func TestStoreConformance(t *testing.T) {
	dsn := os.Getenv("TASKQUEUE_POSTGRES_URL")
	if dsn == "" {
		t.Skip("set TASKQUEUE_POSTGRES_URL to run the postgres store conformance suite")
	}

	clk := clock.NewMock()
	store, err := postgres.NewWithClock(dsn, clk)
	require.NoError(t, err)
	defer store.Close()

	queuetest.Run(t, store, clk)
}
