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

// Package defaults provides centralized configuration constants for the
// traffic control plane.
//
// This package defines timeout values, pool sizes, and background-worker
// intervals used across the codebase. Centralizing these values ensures
// consistency and makes tuning easier.
//
// # Timeout Categories
//
//   - Handler timeouts: for Ingest/Decision API request processing
//   - Server timeouts: for HTTP server configuration
//   - Store timeouts: for Fast Store (Redis) and Durable Store (Postgres) calls
//   - Queue timeouts: for consumer read/ack cycles
//   - Advisor timeouts: for outbound calls to the LLM collaborator
//   - Worker intervals: for the Tuner, Rollup, and Snapshot background loops
//
// # Usage
//
//	import "github.com/mchmarny/trafficctl/pkg/defaults"
//
//	ctx, cancel := context.WithTimeout(ctx, defaults.DecisionHandlerTimeout)
//	defer cancel()
package defaults
