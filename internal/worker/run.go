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

// Package worker wires and runs the control plane's background
// collaborators: the Consumer draining the Message Queue, the Tuner
// retuning thresholds, the Rollup worker folding raw signals into
// hourly/daily summaries, the Snapshot worker persisting the Fast Store
// for crash recovery, and the daily retention cleanup pass.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/mchmarny/trafficctl/internal/config"
	"github.com/mchmarny/trafficctl/pkg/advisor"
	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/breaker"
	"github.com/mchmarny/trafficctl/pkg/consumer"
	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/faststore"
	"github.com/mchmarny/trafficctl/pkg/logging"
	"github.com/mchmarny/trafficctl/pkg/queue"
	"github.com/mchmarny/trafficctl/pkg/rollup"
	"github.com/mchmarny/trafficctl/pkg/snapshot"
	"github.com/mchmarny/trafficctl/pkg/threshold"
	"github.com/mchmarny/trafficctl/pkg/tuner"
)

const (
	name           = "controlplane-worker"
	versionDefault = "dev"
)

var version = versionDefault

// Serve starts every background collaborator and blocks until shutdown.
func Serve() error {
	logging.SetDefaultStructuredLogger(name, version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("starting", "name", name, "version", version)

	addr, password, db, err := config.ParseRedisURL(cfg.FastStoreURL)
	if err != nil {
		return fmt.Errorf("parse fast store url: %w", err)
	}

	fast := faststore.New(
		faststore.WithAddr(addr),
		faststore.WithPassword(password),
		faststore.WithDB(db),
	)
	defer fast.Close()

	ctx := context.Background()
	durableStore, err := durable.New(ctx, durable.WithDSN(cfg.DurableStoreDSN))
	if err != nil {
		return fmt.Errorf("connect durable store: %w", err)
	}
	defer durableStore.Close()

	q, err := queue.New(ctx,
		queue.WithAddr(addr),
		queue.WithPassword(password),
		queue.WithDB(db),
		queue.WithConsumerName(name),
	)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	agg := aggregator.New(fast)
	thresholds := threshold.New(durableStore.Thresholds())
	mirror := breaker.New(func(endpointKey string, from, to gobreaker.State) {
		slog.Info("breaker state change", "endpoint", endpointKey, "from", from, "to", to)
	})

	// An empty AdvisorAPIKey leaves adv nil, so the Tuner runs without
	// making Advisor calls (see Config.AdvisorEnabled).
	var adv *advisor.Client
	if cfg.AdvisorEnabled() {
		adv = advisor.New(cfg.AdvisorAPIKey)
	}

	c := consumer.New(q, agg, durableStore, fast, cfg.SamplingRate)
	t := tuner.New(durableStore, agg, thresholds, adv, mirror)
	ru := rollup.New(durableStore)
	sn := snapshot.New(fast, agg, durableStore)

	notifCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(notifCtx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error { return ru.Run(gctx) })
	g.Go(func() error { return sn.Run(gctx) })
	g.Go(func() error { return runCleanup(gctx, durableStore, ru) })

	if err := g.Wait(); err != nil {
		slog.Error("worker exited with error", "error", err)
		return err
	}

	slog.Debug("worker stopped gracefully")
	return nil
}

// runCleanup enforces raw signal, snapshot, and hourly rollup retention
// once a day until ctx is canceled. Daily rollups have no retention limit.
func runCleanup(ctx context.Context, store *durable.Store, ru *rollup.Worker) error {
	ticker := time.NewTicker(defaults.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if n, err := store.Signals().DeleteOlderThan(ctx, now.Add(-defaults.RetentionPeriod)); err != nil {
				slog.Error("cleanup: raw signal delete failed", "error", err)
			} else {
				slog.Info("cleanup: raw signals deleted", "count", n)
			}

			if n, err := store.Snapshots().DeleteOlderThan(ctx, now.Add(-defaults.SnapshotRetentionPeriod)); err != nil {
				slog.Error("cleanup: snapshot delete failed", "error", err)
			} else {
				slog.Info("cleanup: snapshots deleted", "count", n)
			}

			ru.CleanupHourlyOlderThan(ctx, now.Add(-defaults.HourlyRollupRetentionPeriod))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
