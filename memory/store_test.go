// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package memory_test

import (
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/queue/queuetest"
)

func TestStoreConformance(t *testing.T) {
	clk := clock.NewMock()
	store := memory.NewWithClock(clk)
	queuetest.Run(t, store, clk)
}
