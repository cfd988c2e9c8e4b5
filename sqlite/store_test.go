// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package sqlite_test

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/queue/queuetest"
	"github.com/taskqueue/taskqueue/sqlite"
)

// TestStoreConformance runs the shared queue.Store conformance suite
// against a private in-memory SQLite database, so it exercises the
// real SQL path on every test run without needing an external server
// the way postgres's equivalent test does.
func TestStoreConformance(t *testing.T) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	queuetest.Run(t, store, clock.NewMock())
}
