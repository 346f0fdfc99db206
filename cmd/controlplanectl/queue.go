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

	"github.com/mchmarny/trafficctl/pkg/defaults"
)

func queueCmd() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Inspect the Message Queue and its dead-letter stream",
		Commands: []*cli.Command{
			queueStatusCmd(),
		},
	}
}

type queueStatus struct {
	PendingMessages int64 `json:"pending_messages"`
	DeadLetterCount int64 `json:"dead_letter_count"`
}

func queueStatusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print pending message count and dead-letter queue length",
		Flags: []cli.Flag{fastStoreFlag},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, defaults.CLIRequestTimeout)
			defer cancel()

			q, err := connectQueue(ctx, cmd)
			if err != nil {
				return err
			}
			defer q.Close()

			pending, err := q.PendingCount(ctx)
			if err != nil {
				return fmt.Errorf("pending count: %w", err)
			}
			dead, err := q.DeadLetterLen(ctx)
			if err != nil {
				return fmt.Errorf("dead letter len: %w", err)
			}

			return printJSON(queueStatus{PendingMessages: pending, DeadLetterCount: dead})
		},
	}
}
