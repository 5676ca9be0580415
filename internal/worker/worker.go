// Package worker implements the job-executing worker process.
//
// One Worker runs per OS process: a claim-and-execute loop against the job
// queue plus a concurrent control-channel listener on the process's
// stdin/stdout. A runner failure or an unregistered job type is deliberately
// fatal — the worker exits non-zero, leaving its claim in place, and the
// supervisor's dead-worker reconciliation is the recovery path. Do not add
// local recovery here; it would suppress the crash signal the supervisor
// depends on.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/thanosengine/ChandraGen/internal/job"
	"github.com/thanosengine/ChandraGen/internal/proto"
	"github.com/thanosengine/ChandraGen/internal/store"
)

// Gateway is the slice of the job queue a worker consumes.
type Gateway interface {
	ClaimNextPendingJob(ctx context.Context, workerID uuid.UUID) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
}

// Worker claims and executes jobs until stopped.
type Worker struct {
	id      uuid.UUID
	gw      Gateway
	reg     *job.Registry
	conn    *proto.Conn
	backoff time.Duration

	// running is written by the control listener and Stop, read by the main
	// loop. current is written by the main loop, read by the listener.
	running atomic.Bool
	current atomic.Pointer[uuid.UUID]
}

// New creates a Worker. backoff is the sleep after a queue miss.
func New(id uuid.UUID, gw Gateway, reg *job.Registry, conn *proto.Conn, backoff time.Duration) *Worker {
	return &Worker{id: id, gw: gw, reg: reg, conn: conn, backoff: backoff}
}

// ID returns the worker's identity.
func (w *Worker) ID() uuid.UUID { return w.id }

// Running reports whether the main loop should keep claiming jobs.
func (w *Worker) Running() bool { return w.running.Load() }

// CurrentJob returns the job being executed, or nil when idle.
func (w *Worker) CurrentJob() *uuid.UUID { return w.current.Load() }

// Stop requests a cooperative stop: the worker finishes its in-flight job
// (or its queue-miss sleep) before the main loop observes the flag.
func (w *Worker) Stop() { w.running.Store(false) }

// Run executes the worker until stopped or ctx is cancelled. A runner error
// or unknown job type is returned to the caller, which exits the process
// non-zero — that crash is the signal the supervisor recovers from.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	go w.listen()

	slog.Debug("worker started", "worker_id", w.id)

	for w.running.Load() && ctx.Err() == nil {
		j, err := w.gw.ClaimNextPendingJob(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("claim job error", "worker_id", w.id, "error", err)
			w.rest(ctx)
			continue
		}
		if j == nil {
			// Queue miss: back off instead of hammering the gateway.
			w.rest(ctx)
			continue
		}

		w.current.Store(&j.ID)
		if err := w.runJob(ctx, *j); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
		if err := w.gw.CompleteJob(ctx, j.ID); err != nil {
			slog.Error("complete job error", "worker_id", w.id, "job_id", j.ID, "error", err)
		}
		w.current.Store(nil)
	}

	slog.Debug("worker shutting down", "worker_id", w.id)
	return nil
}

// runJob resolves and drives the runner for one claimed job. Cleanup always
// executes after Run, whether Run failed or not.
func (w *Worker) runJob(ctx context.Context, j store.Job) error {
	slog.Debug("claimed job", "worker_id", w.id, "job_id", j.ID, "job_type", j.Type)

	factory, ok := w.reg.Resolve(j.Type)
	if !ok {
		return fmt.Errorf("no runner registered for job type %q", j.Type)
	}
	r := factory(j)

	if err := r.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	runErr := func() error {
		defer func() {
			if err := r.Cleanup(ctx); err != nil {
				slog.Error("runner cleanup error", "worker_id", w.id, "job_id", j.ID, "error", err)
			}
		}()
		return r.Run(ctx)
	}()
	if runErr != nil {
		return fmt.Errorf("run: %w", runErr)
	}

	slog.Debug("completed job", "worker_id", w.id, "job_id", j.ID)
	return nil
}

// rest sleeps for the queue-miss backoff, waking early on ctx cancellation.
func (w *Worker) rest(ctx context.Context) {
	timer := time.NewTimer(w.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// listen serves the control channel for the life of the process: stop and
// status requests get in-line replies, unknown tags a negative ack,
// malformed frames an error reply. EOF means the supervisor is gone, which
// stops the worker.
func (w *Worker) listen() {
	for {
		m, err := w.conn.Recv(0)
		switch {
		case err == nil:
		case errors.Is(err, proto.ErrMalformed):
			w.reply(proto.InvalidFormat())
			continue
		case errors.Is(err, proto.ErrClosed):
			slog.Warn("control channel closed, stopping", "worker_id", w.id)
			w.Stop()
			return
		default:
			slog.Error("control channel receive error", "worker_id", w.id, "error", err)
			w.Stop()
			return
		}

		slog.Debug("control message received", "worker_id", w.id, "message", m)

		tag, ok := m.Tag()
		if !ok {
			w.reply(proto.InvalidFormat())
			continue
		}
		switch tag {
		case proto.TagStop:
			w.Stop()
			w.reply(proto.StopAck())
		case proto.TagStatus:
			w.reply(proto.StatusReply(w.current.Load(), w.running.Load()))
		default:
			w.reply(proto.NegAck(tag))
		}
	}
}

func (w *Worker) reply(m proto.Message) {
	if err := w.conn.Send(m); err != nil {
		slog.Error("control channel send error", "worker_id", w.id, "error", err)
	}
}
