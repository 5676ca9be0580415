// Package store provides the data access layer over Postgres. All queue
// operations go through *pgxpool.Pool directly; claim atomicity comes from
// FOR UPDATE SKIP LOCKED, which is the single source of mutual exclusion
// over jobs — nothing in this repository adds its own locking on top.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object backing both the supervisor and
// the worker processes. Each process owns its own Store (workers are
// separate OS processes and cannot share a pool).
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (test fixtures, mostly).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
