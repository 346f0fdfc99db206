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

// Package apiserver wires the control plane's Ingest and Decision API
// handlers into a runnable pkg/server.Server. It holds the one place the
// API binary's collaborators (Fast Store, Durable Store, Queue, Aggregator,
// Auth, Breaker, Alert) are constructed and connected.
package apiserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/mchmarny/trafficctl/internal/config"
	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/alert"
	"github.com/mchmarny/trafficctl/pkg/auth"
	"github.com/mchmarny/trafficctl/pkg/breaker"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/faststore"
	"github.com/mchmarny/trafficctl/pkg/httpapi"
	"github.com/mchmarny/trafficctl/pkg/logging"
	"github.com/mchmarny/trafficctl/pkg/queue"
	"github.com/mchmarny/trafficctl/pkg/server"
	"github.com/mchmarny/trafficctl/pkg/threshold"
)

const (
	name           = "controlplane-api"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags, e.g.
	// -X "github.com/mchmarny/trafficctl/internal/apiserver.version=1.0.0"
	version = versionDefault
)

// Serve starts the API server and blocks until shutdown.
func Serve() error {
	ctx := context.Background()

	logging.SetDefaultStructuredLogger(name, version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("starting", "name", name, "version", version, "port", cfg.Port)

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
	authenticator := auth.New(durableStore.Identities())

	mirror := breaker.New(func(endpointKey string, from, to gobreaker.State) {
		slog.Info("breaker state change", "endpoint", endpointKey, "from", from, "to", to)
	})

	var sender alert.Sender = alert.NoopSender{}
	if cfg.AlertEnabled() {
		sender = alert.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	api := httpapi.New(authenticator, q, agg, durableStore, thresholds, mirror, sender, cfg.AlertRecipient)

	s := server.New(
		server.WithName(name),
		server.WithVersion(version),
		server.WithHandler(api.Routes()),
	)

	if err := s.Run(ctx); err != nil {
		slog.Error("server exited with error", "error", err)
		return err
	}

	return nil
}
