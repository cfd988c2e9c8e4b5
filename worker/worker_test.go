// Copyright 2024 Taskqueue contributors.
// This software is released under an MIT/X11 open source license.

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskqueue/taskqueue/memory"
	"github.com/taskqueue/taskqueue/queue"
)

// Suite bundles the fixtures common to every worker test: a mock
// clock (so heartbeat/poll intervals never actually sleep in real
// time), an in-memory store, and the Controller both the Worker and
// the test use as a Producer.
type Suite struct {
	Clock      *clock.Mock
	Store      *memory.Store
	Controller *queue.Controller
	stopPump   chan struct{}
}

func (s *Suite) SetUpTest(t *testing.T) {
	s.Clock = clock.NewMock()
	s.Store = memory.NewWithClock(s.Clock)
	s.Controller = queue.New(s.Store, prometheus.NewRegistry())
	s.Controller.Clock = s.Clock

	s.stopPump = make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopPump:
				return
			case <-ticker.C:
				s.Clock.Add(time.Second)
			}
		}
	}()
}

func (s *Suite) TearDownTest() {
	close(s.stopPump)
}

// waitForStatus polls, in real time, until the job reaches status or
// the deadline elapses.
func waitForStatus(t *testing.T, ctrl *queue.Controller, id string, status queue.Status, timeout time.Duration) *queue.Job {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := ctrl.GetJob(context.Background(), id)
		require.NoError(t, err)
		if j != nil && j.Status == status {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s within %s", id, status, timeout)
	return nil
}

func stopAndJoin(t *testing.T, w *Worker) {
	w.RequestStop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Join(ctx))
}

func TestWorkerHappyPath(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", map[string]interface{}{"frame": 7}, time.Time{})
	require.NoError(t, err)

	var sawArg interface{}
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		sawArg = ch.Job().Args["frame"]
		return nil
	})
	w.Clock = s.Clock

	go func() { _ = w.Run(context.Background()) }()

	j := waitForStatus(t, s.Controller, id, queue.COMPLETED, 2*time.Second)
	stopAndJoin(t, w)

	assert.Equal(t, 7, sawArg)
	assert.Nil(t, j.WorkerException)
	assert.Empty(t, j.WorkerID)
}

func TestWorkerRecordsException(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)

	boom := errors.New("boom")
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		return boom
	})
	w.Clock = s.Clock

	go func() { _ = w.Run(context.Background()) }()

	j := waitForStatus(t, s.Controller, id, queue.COMPLETED, 2*time.Second)
	stopAndJoin(t, w)

	require.NotNil(t, j.WorkerException)
	assert.Equal(t, "boom", j.WorkerException.Reason)
}

func TestWorkerRequeue(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)

	var attempts int
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		attempts++
		if attempts == 1 {
			return ch.RequeueJob(time.Time{})
		}
		return nil
	})
	w.Clock = s.Clock

	go func() { _ = w.Run(context.Background()) }()

	j := waitForStatus(t, s.Controller, id, queue.COMPLETED, 2*time.Second)
	stopAndJoin(t, w)

	assert.Equal(t, 2, attempts)
	assert.Nil(t, j.WorkerException)
}

func TestWorkerCooperativeCancellation(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)

	started := make(chan struct{})
	interrupted := make(chan struct{})
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		close(started)
		for {
			if err := ch.InterruptIfRequested(); err != nil {
				close(interrupted)
				return err
			}
			time.Sleep(2 * time.Millisecond)
		}
	})
	w.Clock = s.Clock

	go func() { _ = w.Run(context.Background()) }()

	<-started
	for {
		current, err := s.Controller.GetJob(context.Background(), id)
		require.NoError(t, err)
		_, err = s.Controller.CancelJob(context.Background(), id, current.Version)
		if !queue.IsConcurrencyError(err) {
			require.NoError(t, err)
			break
		}
	}

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never interrupted after cancellation")
	}

	stopAndJoin(t, w)

	j, err := s.Controller.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.CANCELLED, j.Status)
}

func TestWorkerAsyncInterruptClosesDone(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)

	started := make(chan struct{})
	sawDone := make(chan struct{})
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		close(started)
		<-ch.Done()
		close(sawDone)
		return queue.ErrInterruptJob
	})
	w.Clock = s.Clock
	w.InterruptMode = Async

	go func() { _ = w.Run(context.Background()) }()

	<-started
	for {
		current, err := s.Controller.GetJob(context.Background(), id)
		require.NoError(t, err)
		_, err = s.Controller.CancelJob(context.Background(), id, current.Version)
		if !queue.IsConcurrencyError(err) {
			require.NoError(t, err)
			break
		}
	}

	select {
	case <-sawDone:
	case <-time.After(2 * time.Second):
		t.Fatal("task never observed Done() after async interrupt")
	}

	stopAndJoin(t, w)
}

func TestWorkerReclaimsAbandonedLease(t *testing.T) {
	var s Suite
	s.SetUpTest(t)
	defer s.TearDownTest()

	id := s.Controller.CreateJobID()
	_, err := s.Controller.CreateJob(context.Background(), id, "render", nil, time.Time{})
	require.NoError(t, err)

	// Simulate a worker that acquired the job and then vanished
	// without ever heartbeating again.
	abandoned, err := s.Controller.AcquireJob(context.Background(), []string{"render"}, "ghost-worker")
	require.NoError(t, err)
	require.NotNil(t, abandoned)

	s.Clock.Add(queue.HeartbeatTimeout + time.Minute)

	var ran bool
	w := New(s.Controller, []string{"render"}, func(ch *queue.Channel) error {
		ran = true
		assert.NotEqual(t, "ghost-worker", ch.Job().WorkerID)
		return nil
	})
	w.Clock = s.Clock

	go func() { _ = w.Run(context.Background()) }()

	j := waitForStatus(t, s.Controller, id, queue.COMPLETED, 2*time.Second)
	stopAndJoin(t, w)

	assert.True(t, ran)
	assert.Nil(t, j.WorkerException)
}
