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

package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/trafficctl/internal/config"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/queue"
)

var (
	dsnFlag = &cli.StringFlag{
		Name:    "dsn",
		Usage:   "Durable Store Postgres DSN",
		Sources: cli.EnvVars("DATABASE_URL"),
		Value:   "postgres://localhost:5432/trafficctl?sslmode=disable",
	}
	fastStoreFlag = &cli.StringFlag{
		Name:    "fast-store-url",
		Usage:   "Fast Store / Queue Redis URL",
		Sources: cli.EnvVars("FAST_STORE_URL"),
		Value:   "redis://localhost:6379/0",
	}
)

func connectDurableStore(ctx context.Context, cmd *cli.Command) (*durable.Store, error) {
	store, err := durable.New(ctx, durable.WithDSN(cmd.String("dsn")))
	if err != nil {
		return nil, fmt.Errorf("connect durable store: %w", err)
	}
	return store, nil
}

func connectQueue(ctx context.Context, cmd *cli.Command) (*queue.Queue, error) {
	addr, password, db, err := config.ParseRedisURL(cmd.String("fast-store-url"))
	if err != nil {
		return nil, fmt.Errorf("parse fast store url: %w", err)
	}
	q, err := queue.New(ctx,
		queue.WithAddr(addr),
		queue.WithPassword(password),
		queue.WithDB(db),
		queue.WithConsumerName("controlplanectl"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect queue: %w", err)
	}
	return q, nil
}
