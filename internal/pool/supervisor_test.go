// ABOUTME: Supervisor tests using scriptable fake worker processes and a
// ABOUTME: fake queue gateway: autoscaling thresholds, crash recovery, shutdown.
package pool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanosengine/ChandraGen/internal/job"
	"github.com/thanosengine/ChandraGen/internal/pool"
	"github.com/thanosengine/ChandraGen/internal/proto"
	"github.com/thanosengine/ChandraGen/internal/store"
)

// fakeWorker is both the process handle and the control channel of one
// scripted worker.
type fakeWorker struct {
	mu            sync.Mutex
	alive         bool
	killed        bool
	ackStop       bool // reply ["stop",true] and exit when asked to stop
	respondStatus bool // reply to status requests
	killErr       error
	replies       chan proto.Message
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		alive:         true,
		ackStop:       true,
		respondStatus: true,
		replies:       make(chan proto.Message, 4),
	}
}

func (f *fakeWorker) Send(m proto.Message) error {
	tag, _ := m.Tag()
	switch tag {
	case proto.TagStop:
		if f.ackStop {
			f.mu.Lock()
			f.alive = false
			f.mu.Unlock()
			f.replies <- proto.StopAck()
		}
	case proto.TagStatus:
		if f.respondStatus {
			f.replies <- proto.StatusReply(nil, true)
		}
	}
	return nil
}

func (f *fakeWorker) Recv(timeout time.Duration) (proto.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-f.replies:
		return m, nil
	case <-timer.C:
		return nil, proto.ErrTimeout
	}
}

func (f *fakeWorker) Close() error { return nil }

func (f *fakeWorker) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeWorker) Wait(timeout time.Duration) error {
	if f.Alive() {
		return errors.New("still running")
	}
	return nil
}

func (f *fakeWorker) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = true
	f.alive = false
	return nil
}

func (f *fakeWorker) die() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

// fakeSpawner hands out fakeWorkers and remembers them by identity.
type fakeSpawner struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*fakeWorker
	next    func() *fakeWorker
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{workers: make(map[uuid.UUID]*fakeWorker), next: newFakeWorker}
}

func (s *fakeSpawner) spawn(id uuid.UUID) (pool.Process, pool.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.next()
	s.workers[id] = w
	return w, w, nil
}

func (s *fakeSpawner) get(id uuid.UUID) *fakeWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers[id]
}

// fakeGW serves scripted queue statistics and orphaned claims.
type fakeGW struct {
	mu      sync.Mutex
	status  store.QueueStatus
	claimed map[uuid.UUID]store.Job
}

func (g *fakeGW) JobClaimedBy(_ context.Context, workerID uuid.UUID) (*store.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.claimed[workerID]; ok {
		return &j, nil
	}
	return nil, nil
}

func (g *fakeGW) QueueStatus(context.Context) (store.QueueStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status, nil
}

func (g *fakeGW) setStatus(pending, inProgress int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = store.QueueStatus{Pending: pending, InProgress: inProgress}
	if total := pending + inProgress; total > 0 {
		g.status.PendingRatio = float64(pending) / float64(total)
	}
}

// retryCounter counts Retry invocations routed through the registry.
type retryCounter struct {
	mu sync.Mutex
	n  int
}

func (c *retryCounter) registry() *job.Registry {
	reg := job.NewRegistry()
	reg.Register("test", func(store.Job) job.Runner { return (*countingRunner)(c) })
	return reg
}

func (c *retryCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type countingRunner retryCounter

func (r *countingRunner) Setup(context.Context) error   { return nil }
func (r *countingRunner) Run(context.Context) error     { return nil }
func (r *countingRunner) Cleanup(context.Context) error { return nil }
func (r *countingRunner) Retry(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func newSupervisor(t *testing.T, min, max int, gw *fakeGW, reg *job.Registry) (*pool.Supervisor, *fakeSpawner) {
	t.Helper()
	if gw == nil {
		gw = &fakeGW{}
	}
	if reg == nil {
		reg = job.NewRegistry()
	}
	sp := newFakeSpawner()
	sup := pool.New(pool.Config{
		MinWorkers:     min,
		MaxWorkers:     max,
		TickInterval:   10 * time.Millisecond,
		ControlTimeout: 100 * time.Millisecond,
	}, gw, reg, sp.spawn)
	return sup, sp
}

func fill(t *testing.T, sup *pool.Supervisor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, sup.SpawnWorker())
	}
}

func TestBalanceWorkers_ScaleUpByExactlyOne(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(30, 70) // pending ratio 0.30, load well above 0.8
	sup, _ := newSupervisor(t, 2, 5, gw, nil)
	fill(t, sup, 3)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 4, sup.Size(), "overload must spawn exactly one worker")
}

func TestBalanceWorkers_ScaleUpRespectsMaximum(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(30, 70)
	sup, _ := newSupervisor(t, 2, 4, gw, nil)
	fill(t, sup, 4)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 4, sup.Size(), "pool must not exceed maximum")
}

func TestBalanceWorkers_ScaleDownByExactlyOne(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(0, 1) // pending ratio 0, load 0.25 with four workers
	sup, _ := newSupervisor(t, 2, 6, gw, nil)
	fill(t, sup, 4)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 3, sup.Size(), "underload must stop exactly one worker")
}

func TestBalanceWorkers_ScaleDownRespectsMinimum(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(0, 0)
	sup, _ := newSupervisor(t, 2, 6, gw, nil)
	fill(t, sup, 2)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 2, sup.Size(), "pool must not drop below minimum")
}

func TestBalanceWorkers_EmergencyFillToMinimum(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(0, 0) // ratios irrelevant: the fill is unconditional
	sup, _ := newSupervisor(t, 3, 6, gw, nil)
	fill(t, sup, 1)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 3, sup.Size(), "pool below minimum must refill immediately")
}

func TestBalanceWorkers_SteadyStateInBand(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(10, 90) // ratio 0.1: between scale-down and scale-up bands
	sup, _ := newSupervisor(t, 2, 6, gw, nil)
	fill(t, sup, 3)

	sup.BalanceWorkers(context.Background())
	assert.Equal(t, 3, sup.Size())
}

func TestCleanUpDeadWorkers_RetriesOrphanedClaimOnce(t *testing.T) {
	t.Parallel()
	rc := &retryCounter{}
	jobID := uuid.New()
	gw := &fakeGW{claimed: make(map[uuid.UUID]store.Job)}
	sup, sp := newSupervisor(t, 2, 4, gw, rc.registry())
	fill(t, sup, 2)

	// Kill one worker mid-job: its claim on jobID is now orphaned.
	ids := sup.WorkerIDs()
	dead := ids[0]
	sp.get(dead).die()
	gw.mu.Lock()
	gw.claimed[dead] = store.Job{ID: jobID, Type: "test"}
	gw.mu.Unlock()

	ctx := context.Background()
	sup.CleanUpDeadWorkers(ctx)
	require.Equal(t, 1, sup.Size(), "dead worker must leave the pool")
	require.Equal(t, 1, rc.count(), "orphaned claim must be retried exactly once")

	// A second pass must not retry again: the dead worker is gone.
	sup.CleanUpDeadWorkers(ctx)
	assert.Equal(t, 1, rc.count())

	// The rebalance that follows in the same tick restores the minimum.
	sup.BalanceWorkers(ctx)
	assert.GreaterOrEqual(t, sup.Size(), 2, "pool must refill to minimum after a crash")
}

func TestCleanUpDeadWorkers_NoClaimNoRetry(t *testing.T) {
	t.Parallel()
	rc := &retryCounter{}
	gw := &fakeGW{}
	sup, sp := newSupervisor(t, 1, 4, gw, rc.registry())
	fill(t, sup, 1)

	sp.get(sup.WorkerIDs()[0]).die()
	sup.CleanUpDeadWorkers(context.Background())
	assert.Equal(t, 0, sup.Size())
	assert.Equal(t, 0, rc.count())
}

func TestStopWorker_GracefulAck(t *testing.T) {
	t.Parallel()
	sup, sp := newSupervisor(t, 1, 4, nil, nil)
	fill(t, sup, 1)
	id := sup.WorkerIDs()[0]

	require.NoError(t, sup.StopWorker(id))
	assert.Equal(t, 0, sup.Size())
	assert.False(t, sp.get(id).killed, "acked stop must not be force-killed")
}

func TestStopWorker_ForceKillOnNoAck(t *testing.T) {
	t.Parallel()
	sup, sp := newSupervisor(t, 1, 4, nil, nil)
	sp.next = func() *fakeWorker {
		w := newFakeWorker()
		w.ackStop = false
		return w
	}
	fill(t, sup, 1)
	id := sup.WorkerIDs()[0]

	require.NoError(t, sup.StopWorker(id))
	assert.Equal(t, 0, sup.Size())
	assert.True(t, sp.get(id).killed, "unacked stop must escalate to kill")
}

func TestStopWorker_KillFailureIsFatal(t *testing.T) {
	t.Parallel()
	sup, sp := newSupervisor(t, 1, 4, nil, nil)
	sp.next = func() *fakeWorker {
		w := newFakeWorker()
		w.ackStop = false
		w.killErr = errors.New("EPERM")
		return w
	}
	fill(t, sup, 1)
	id := sup.WorkerIDs()[0]

	err := sup.StopWorker(id)
	var shutdownErr *pool.ShutdownError
	require.ErrorAs(t, err, &shutdownErr)
	assert.Equal(t, id, shutdownErr.WorkerID)
	assert.Equal(t, 1, sup.Size(), "entry stays in the pool when the kill itself fails")
}

func TestStopWorker_UnknownWorkerIsNoop(t *testing.T) {
	t.Parallel()
	sup, _ := newSupervisor(t, 1, 4, nil, nil)
	assert.NoError(t, sup.StopWorker(uuid.New()))
}

func TestWorkerStatus_RoundTrip(t *testing.T) {
	t.Parallel()
	sup, _ := newSupervisor(t, 1, 4, nil, nil)
	fill(t, sup, 1)

	m := sup.WorkerStatus(sup.WorkerIDs()[0])
	tag, _ := m.Tag()
	assert.Equal(t, proto.TagStatus, tag)
	assert.True(t, m.OK())
}

func TestWorkerStatus_TimeoutYieldsSentinel(t *testing.T) {
	t.Parallel()
	sup, sp := newSupervisor(t, 1, 4, nil, nil)
	sp.next = func() *fakeWorker {
		w := newFakeWorker()
		w.respondStatus = false
		return w
	}
	fill(t, sup, 1)

	start := time.Now()
	m := sup.WorkerStatus(sup.WorkerIDs()[0])
	elapsed := time.Since(start)

	require.Len(t, m, 2)
	assert.Equal(t, proto.TagNoResponse, m[0])
	assert.Equal(t, false, m[1])
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond,
		"sentinel must not appear before the timeout elapses")
}

func TestRun_LifecycleAndShutdown(t *testing.T) {
	t.Parallel()
	gw := &fakeGW{}
	gw.setStatus(0, 0)
	sup, _ := newSupervisor(t, 2, 4, gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	// Wait for the starting fill to complete and the loop to enter Running.
	deadline := time.Now().Add(5 * time.Second)
	for sup.State() != pool.StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, pool.StateRunning, sup.State())
	require.Equal(t, 2, sup.Size())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	require.Equal(t, pool.StateStopped, sup.State())

	// Coordinators drain every worker.
	sup.Wait()
	assert.Equal(t, 0, sup.Size())
}
