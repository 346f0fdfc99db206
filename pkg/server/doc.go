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

// Package server hosts the adaptive traffic-management control plane's
// HTTP surface: the Ingest API and the Decision API, plus the system
// endpoints (health, readiness, metrics) both binaries expose.
//
// # Architecture
//
//   - chi router with wildcard route registration (handlers are keyed by
//     chi patterns such as "/api/config/{service_name}/*")
//   - Token-bucket rate limiting (golang.org/x/time/rate) ahead of every
//     application route
//   - Request ID handling via X-Request-Id: a valid client-supplied UUID is
//     echoed back, otherwise a new one is generated (the ID stays in the
//     HTTP layer and is not carried into queued signals)
//   - Panic recovery and graceful shutdown via errgroup + signal.NotifyContext
//   - Health and readiness probes for Kubernetes
//
// # Usage
//
//	// api.Routes() maps "/api/signals" and "/api/config/{service_name}/*"
//	// to the Ingest and Decision handlers.
//	s := server.New(server.WithName("controlplane-api"), server.WithHandler(api.Routes()))
//	if err := s.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Endpoints
//
// GET /health - liveness probe, always 200
//
// GET /ready - readiness probe, 503 until the server has started accepting connections
//
// GET /metrics - Prometheus exposition
//
// Application routes are registered by the caller through WithHandler; this
// package owns only the routing, middleware, and error envelope around them.
//
// # Error Handling
//
// All non-2xx responses return a consistent JSON envelope (see
// pkg/errors and WriteError):
//
//	{
//	  "code": "RATE_LIMIT_EXCEEDED",
//	  "message": "rate limit exceeded",
//	  "requestId": "550e8400-e29b-41d4-a716-446655440000",
//	  "timestamp": "2026-07-30T12:00:00Z",
//	  "retryable": true
//	}
//
// Error codes used by this control plane: NOT_FOUND, UNAUTHORIZED, TIMEOUT,
// INTERNAL, INVALID_REQUEST, RATE_LIMIT_EXCEEDED, METHOD_NOT_ALLOWED,
// SERVICE_UNAVAILABLE, CONFLICT (a threshold override or signal violates an
// invariant of existing state), and QUEUE_UNAVAILABLE (the Message Queue
// rejected a publish on the Ingest path).
package server
