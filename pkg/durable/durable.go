// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package durable is the transactional row store for signals, rollups,
// snapshots, thresholds, insights, and identity rows. It is backed by
// PostgreSQL through a pgx/v5 pool, with sqlx handling struct scanning for
// the read-heavy repository methods.
package durable

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver sqlx opens below

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

// Store owns the connection pool shared by every repository in this package.
type Store struct {
	db *sqlx.DB
}

// Option is a functional option for configuring a Store.
type Option func(*options)

type options struct {
	dsn      string
	maxConns int
}

// WithDSN returns an Option that sets the Postgres connection string.
func WithDSN(dsn string) Option {
	return func(o *options) { o.dsn = dsn }
}

// WithMaxConns returns an Option that overrides the pool's maximum size.
// Hot-path callers and background workers should use separate Stores sized
// per spec.md §5 (≈10 for request handlers, ≈20 for workers) rather than
// sharing one pool across both.
func WithMaxConns(n int) Option {
	return func(o *options) { o.maxConns = n }
}

// New opens a connection pool against Postgres (via pgx's database/sql
// driver) using the given Options.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := &options{
		maxConns: defaults.DurableStoreMaxConns,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dsn == "" {
		return nil, fmt.Errorf("durable: DSN is required")
	}

	db, err := sqlx.Open("pgx", o.dsn)
	if err != nil {
		return nil, fmt.Errorf("durable: open: %w", err)
	}
	db.SetMaxOpenConns(o.maxConns)

	ctx, cancel := context.WithTimeout(ctx, defaults.DurableStoreConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("durable: ping: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Signals returns the Signal repository.
func (s *Store) Signals() *SignalRepo { return &SignalRepo{db: s.db} }

// Rollups returns the Rollup repository.
func (s *Store) Rollups() *RollupRepo { return &RollupRepo{db: s.db} }

// Snapshots returns the Snapshot repository.
func (s *Store) Snapshots() *SnapshotRepo { return &SnapshotRepo{db: s.db} }

// Thresholds returns the Threshold repository.
func (s *Store) Thresholds() *ThresholdRepo { return &ThresholdRepo{db: s.db} }

// Insights returns the Insight repository.
func (s *Store) Insights() *InsightRepo { return &InsightRepo{db: s.db} }

// Identities returns the API-key read-path repository.
func (s *Store) Identities() *IdentityRepo { return &IdentityRepo{db: s.db} }
