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
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/threshold"
)

func endpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tenant", Usage: "Tenant ID", Required: true},
		&cli.StringFlag{Name: "service", Usage: "Service name", Required: true},
		&cli.StringFlag{Name: "endpoint", Usage: "Endpoint path, e.g. /v1/cart", Required: true},
	}
}

func thresholdCmd() *cli.Command {
	return &cli.Command{
		Name:  "threshold",
		Usage: "Inspect or override Decision Engine thresholds for an endpoint",
		Commands: []*cli.Command{
			thresholdShowCmd(),
			thresholdSetCmd(),
		},
	}
}

func thresholdShowCmd() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the current threshold record for an endpoint",
		Flags: append(endpointFlags(), dsnFlag),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, defaults.CLIRequestTimeout)
			defer cancel()

			store, err := connectDurableStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			th := threshold.New(store.Thresholds())
			rec, err := th.ReadOne(ctx, cmd.String("tenant"), cmd.String("service"), cmd.String("endpoint"))
			if err != nil {
				return fmt.Errorf("read threshold: %w", err)
			}
			return printJSON(rec)
		},
	}
}

func thresholdSetCmd() *cli.Command {
	return &cli.Command{
		Name:  "set",
		Usage: "Override the threshold record for an endpoint",
		Flags: append(endpointFlags(),
			dsnFlag,
			&cli.IntFlag{Name: "cache-latency-ms", Usage: "Average latency (ms) at or above which caching is enabled", Required: true},
			&cli.Float64Flag{Name: "breaker-error-rate", Usage: "Error rate at or above which the breaker trips", Required: true},
			&cli.IntFlag{Name: "queue-rpm", Usage: "Global RPM above which requests are queued", Required: true},
			&cli.IntFlag{Name: "shed-rpm", Usage: "Global RPM above which requests are shed", Required: true},
			&cli.IntFlag{Name: "per-client-rpm", Usage: "Per-client RPM above which a customer is rate limited", Required: true},
			&cli.StringFlag{Name: "reasoning", Usage: "Human-readable justification recorded alongside the override"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, defaults.CLIRequestTimeout)
			defer cancel()

			store, err := connectDurableStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec := threshold.Record{
				CacheLatencyMS:   int(cmd.Int("cache-latency-ms")),
				BreakerErrorRate: cmd.Float64("breaker-error-rate"),
				QueueRPM:         int(cmd.Int("queue-rpm")),
				ShedRPM:          int(cmd.Int("shed-rpm")),
				PerClientRPM:     int(cmd.Int("per-client-rpm")),
				Confidence:       1.0,
				Reasoning:        cmd.String("reasoning"),
			}

			th := threshold.New(store.Thresholds())
			if err := th.Upsert(ctx, cmd.String("tenant"), cmd.String("service"), cmd.String("endpoint"), rec); err != nil {
				return fmt.Errorf("set threshold: %w", err)
			}
			fmt.Fprintln(os.Stdout, "threshold updated")
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
