package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thanosengine/ChandraGen/internal/store"
)

// TypeSleep holds a claim for a configured duration. Useful for exercising
// the pool under synthetic load (see the enqueue subcommand).
const TypeSleep = "sleep"

type sleepPayload struct {
	Duration string `json:"duration"`
}

type sleepRunner struct {
	st  *store.Store
	job store.Job
	d   time.Duration
}

// NewSleepRunner returns the factory for sleep runners.
func NewSleepRunner(st *store.Store) Factory {
	return func(j store.Job) Runner {
		return &sleepRunner{st: st, job: j}
	}
}

func (r *sleepRunner) Setup(ctx context.Context) error {
	var p sleepPayload
	if err := json.Unmarshal(r.job.Payload, &p); err != nil {
		return fmt.Errorf("sleep payload: %w", err)
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return fmt.Errorf("sleep payload duration: %w", err)
	}
	r.d = d
	return nil
}

func (r *sleepRunner) Run(ctx context.Context) error {
	timer := time.NewTimer(r.d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *sleepRunner) Cleanup(ctx context.Context) error { return nil }

func (r *sleepRunner) Retry(ctx context.Context) error {
	return r.st.ReleaseJob(ctx, r.job.ID)
}
