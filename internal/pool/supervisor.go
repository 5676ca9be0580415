// Package pool implements the worker-pool supervisor: a control loop that
// owns worker process lifecycle, reconciles dead workers, recovers their
// orphaned job claims, and scales the pool between configured bounds.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thanosengine/ChandraGen/internal/job"
	"github.com/thanosengine/ChandraGen/internal/proto"
	"github.com/thanosengine/ChandraGen/internal/store"
)

// Gateway is the slice of the job queue the supervisor consumes: orphaned
// claim lookup and the aggregate statistics feeding the autoscaler.
type Gateway interface {
	JobClaimedBy(ctx context.Context, workerID uuid.UUID) (*store.Job, error)
	QueueStatus(ctx context.Context) (store.QueueStatus, error)
}

// State is the supervisor lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Config bounds and paces the supervisor.
type Config struct {
	MinWorkers int
	MaxWorkers int
	// TickInterval paces reconciliation: dead-worker cleanup then rebalance.
	TickInterval time.Duration
	// ControlTimeout bounds every control-channel round-trip and the
	// post-ack wait for process exit.
	ControlTimeout time.Duration
}

// workerEntry is one pool slot: process handle plus control channel.
type workerEntry struct {
	proc Process
	conn Conn
}

// Supervisor owns the worker pool. The pool map is mutated by the control
// loop and, on disjoint keys, by per-worker shutdown coordinators; the
// mutex preserves single-writer-per-key discipline.
type Supervisor struct {
	cfg   Config
	gw    Gateway
	reg   *job.Registry
	spawn Spawner

	mu      sync.Mutex
	workers map[uuid.UUID]*workerEntry

	state    atomic.Int32
	shutdown sync.WaitGroup
}

// New creates a Supervisor. Workers come from spawn; orphaned claims are
// retried through runners resolved from reg.
func New(cfg Config, gw Gateway, reg *job.Registry, spawn Spawner) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		gw:      gw,
		reg:     reg,
		spawn:   spawn,
		workers: make(map[uuid.UUID]*workerEntry),
	}
}

// State returns the supervisor's lifecycle state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

// Size returns the current pool size.
func (s *Supervisor) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// WorkerIDs returns the identities currently registered in the pool.
func (s *Supervisor) WorkerIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Run is the control loop. It fills the pool to the minimum, then ticks
// until ctx is cancelled: dead-worker cleanup, rebalance, idle. On
// cancellation it dispatches one stop coordinator per worker without
// blocking on any of them and returns; call Wait to observe full drain.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateStarting)
	slog.Info("pool starting",
		"min_workers", s.cfg.MinWorkers, "max_workers", s.cfg.MaxWorkers)

	for i := 0; i < s.cfg.MinWorkers; i++ {
		if err := s.SpawnWorker(); err != nil {
			slog.Error("spawn worker error", "error", err)
		}
	}
	s.setState(StateRunning)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.setState(StateStopped)
			return nil
		case <-ticker.C:
			s.CleanUpDeadWorkers(ctx)
			s.BalanceWorkers(ctx)
		}
	}
}

// Wait blocks until every shutdown coordinator dispatched by Run has
// finished.
func (s *Supervisor) Wait() { s.shutdown.Wait() }

// stopAll fans a stop request out to every live worker, one coordinator
// goroutine each, so a hung worker cannot delay the termination of others.
func (s *Supervisor) stopAll() {
	s.setState(StateShuttingDown)
	ids := s.WorkerIDs()
	slog.Info("pool shutting down", "workers", len(ids))

	for _, id := range ids {
		s.shutdown.Add(1)
		go func(id uuid.UUID) {
			defer s.shutdown.Done()
			if err := s.StopWorker(id); err != nil {
				slog.Error("worker shutdown error", "worker_id", id, "error", err)
			}
		}(id)
	}
}

// SpawnWorker allocates a new identity, starts a worker process for it, and
// registers it in the pool.
func (s *Supervisor) SpawnWorker() error {
	id := uuid.New()
	proc, conn, err := s.spawn(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.workers[id] = &workerEntry{proc: proc, conn: conn}
	size := len(s.workers)
	s.mu.Unlock()

	workersSpawned.Inc()
	poolSize.Set(float64(size))
	slog.Debug("spawned worker", "worker_id", id, "pool_size", size)
	return nil
}

// StopWorker stops one worker: a stop request first, and if the worker does
// not acknowledge and exit within the control timeout, forced termination.
// The entry leaves the pool in every case except a failed kill, which
// returns a ShutdownError — that failure means OS process control is broken.
func (s *Supervisor) StopWorker(id uuid.UUID) error {
	s.mu.Lock()
	e, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	acked := false
	if err := e.conn.Send(proto.Stop()); err != nil {
		slog.Warn("stop request send failed", "worker_id", id, "error", err)
	} else {
		resp, err := e.conn.Recv(s.cfg.ControlTimeout)
		acked = err == nil && resp.IsStopAck()
	}

	if acked {
		if err := e.proc.Wait(s.cfg.ControlTimeout); err == nil {
			s.remove(id, e)
			workersStopped.Inc()
			slog.Debug("worker stopped", "worker_id", id)
			return nil
		}
		slog.Warn("worker acknowledged stop but did not exit", "worker_id", id)
	}

	if err := e.proc.Kill(); err != nil {
		return &ShutdownError{WorkerID: id, Reason: "could not kill process: " + err.Error()}
	}
	s.remove(id, e)
	workersStopped.Inc()
	slog.Warn("worker force-killed", "worker_id", id)
	return nil
}

// remove deletes a pool entry and closes its control channel.
func (s *Supervisor) remove(id uuid.UUID, e *workerEntry) {
	s.mu.Lock()
	delete(s.workers, id)
	size := len(s.workers)
	s.mu.Unlock()

	poolSize.Set(float64(size))
	if err := e.conn.Close(); err != nil {
		slog.Debug("control channel close error", "worker_id", id, "error", err)
	}
}

// CleanUpDeadWorkers removes pool entries whose process has exited and
// retries any job claim the dead worker orphaned. This is the system's sole
// job-failure recovery path: a crashed worker leaves its claim behind, and
// this pass hands the job back to the queue via the runner's Retry.
func (s *Supervisor) CleanUpDeadWorkers(ctx context.Context) {
	s.mu.Lock()
	dead := make(map[uuid.UUID]*workerEntry)
	for id, e := range s.workers {
		if !e.proc.Alive() {
			dead[id] = e
		}
	}
	s.mu.Unlock()

	for id, e := range dead {
		slog.Warn("found dead worker, removing from pool", "worker_id", id)
		s.remove(id, e)
		workersDead.Inc()

		claimed, err := s.gw.JobClaimedBy(ctx, id)
		if err != nil {
			slog.Error("orphaned claim lookup error", "worker_id", id, "error", err)
			continue
		}
		if claimed == nil {
			continue
		}

		slog.Warn("dead worker had claimed job, retrying",
			"worker_id", id, "job_id", claimed.ID, "job_type", claimed.Type)
		factory, ok := s.reg.Resolve(claimed.Type)
		if !ok {
			slog.Error("no runner registered for job type",
				"job_type", claimed.Type, "job_id", claimed.ID)
			continue
		}
		if err := factory(*claimed).Retry(ctx); err != nil {
			slog.Error("job retry error", "job_id", claimed.ID, "error", err)
			continue
		}
		jobsRetried.Inc()
	}
}

// BalanceWorkers evaluates the autoscaling policy once. The fill to the
// minimum is unconditional and happens before the load ratio is computed,
// which also keeps the division below safe.
func (s *Supervisor) BalanceWorkers(ctx context.Context) {
	qs, err := s.gw.QueueStatus(ctx)
	if err != nil {
		slog.Error("queue status error", "error", err)
		return
	}

	size := s.Size()
	if size < s.cfg.MinWorkers {
		slog.Warn("worker pool below minimum", "size", size, "min", s.cfg.MinWorkers)
		for i := size; i < s.cfg.MinWorkers; i++ {
			if err := s.SpawnWorker(); err != nil {
				slog.Error("spawn worker error", "error", err)
			}
		}
		size = s.cfg.MinWorkers
	}

	load := float64(qs.InProgress) / float64(size)

	if qs.PendingRatio > 0.25 && load >= 0.8 && size < s.cfg.MaxWorkers {
		slog.Info("worker pool overloaded, spawning worker",
			"pending_ratio", qs.PendingRatio, "load_ratio", load, "size", size)
		if err := s.SpawnWorker(); err != nil {
			slog.Error("spawn worker error", "error", err)
			return
		}
		scaleUps.Inc()
	}

	if qs.PendingRatio < 0.01 && load <= 0.5 && size > s.cfg.MinWorkers {
		// Victim selection is arbitrary: any pool entry may be picked. The
		// stop is cooperative, so a busy victim finishes its job first.
		var victim uuid.UUID
		s.mu.Lock()
		for id := range s.workers {
			victim = id
			break
		}
		s.mu.Unlock()

		slog.Info("worker pool underloaded, stopping worker",
			"worker_id", victim, "pending_ratio", qs.PendingRatio, "load_ratio", load)
		if err := s.StopWorker(victim); err != nil {
			slog.Error("stop worker error", "worker_id", victim, "error", err)
			return
		}
		scaleDowns.Inc()
	}
}

// WorkerStatus performs a status round-trip against one worker's control
// channel. A missing worker or a request that exceeds the control timeout
// yields the ["no response", false] sentinel rather than blocking.
func (s *Supervisor) WorkerStatus(id uuid.UUID) proto.Message {
	s.mu.Lock()
	e, ok := s.workers[id]
	s.mu.Unlock()
	if !ok {
		return proto.NoResponse()
	}

	if err := e.conn.Send(proto.Status()); err != nil {
		slog.Warn("status request send failed", "worker_id", id, "error", err)
		return proto.NoResponse()
	}
	resp, err := e.conn.Recv(s.cfg.ControlTimeout)
	if err != nil {
		return proto.NoResponse()
	}
	return resp
}
