// Package job defines the runner contract and the registry that maps
// job-type keys to runner factories.
//
// The registry is plain data built once at startup by [Builtin]; nothing
// registers itself as an import side effect. A worker resolves a factory by
// the claimed job's type key and drives the runner through
// Setup → Run → Cleanup; the supervisor uses the same resolution to invoke
// Retry when it recovers a dead worker's orphaned claim.
package job

import (
	"context"

	"github.com/thanosengine/ChandraGen/internal/store"
)

// Runner executes one claimed job. Cleanup is always invoked after Run,
// whether Run succeeded or not. Retry is the out-of-band recovery hook: it
// must make the job claimable again without executing it.
type Runner interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Retry(ctx context.Context) error
}

// Factory produces a Runner bound to one specific job.
type Factory func(j store.Job) Runner

// Registry maps job-type keys to runner factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates jobType with f, replacing any previous entry.
func (r *Registry) Register(jobType string, f Factory) {
	r.factories[jobType] = f
}

// Resolve returns the factory for jobType, reporting whether one is
// registered.
func (r *Registry) Resolve(jobType string) (Factory, bool) {
	f, ok := r.factories[jobType]
	return f, ok
}

// Types returns the registered job-type keys, in no particular order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

// Builtin returns the registry of built-in runners, all backed by st.
func Builtin(st *store.Store) *Registry {
	r := NewRegistry()
	r.Register(TypeConvertDocument, NewConvertRunner(st))
	r.Register(TypeSleep, NewSleepRunner(st))
	return r
}
