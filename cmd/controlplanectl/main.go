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

// Command controlplanectl is the control plane's operator CLI: threshold
// inspection/override and queue/DLQ inspection against a live Durable
// Store and Fast Store, for on-call use alongside the API and worker
// binaries.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:                  "controlplanectl",
		EnableShellCompletion: true,
		Usage:                 "Operate the adaptive traffic-management control plane",
		Version:               version,
		Commands: []*cli.Command{
			thresholdCmd(),
			queueCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "controlplanectl:", err)
		os.Exit(1)
	}
}
