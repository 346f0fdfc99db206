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

// Package httpapi wires the Ingest API and Decision API (spec.md §4.5)
// onto pkg/server's route map. It holds no decision logic of its own —
// every rule lives in pkg/decision, pkg/threshold, and pkg/aggregator;
// this package only authenticates, resolves inputs, and serializes
// results.
package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/alert"
	"github.com/mchmarny/trafficctl/pkg/auth"
	"github.com/mchmarny/trafficctl/pkg/breaker"
	"github.com/mchmarny/trafficctl/pkg/decision"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/queue"
	"github.com/mchmarny/trafficctl/pkg/signal"
	"github.com/mchmarny/trafficctl/pkg/threshold"
)

const (
	// IngestPath is the Ingest API route (spec.md §4.5).
	IngestPath = "/api/signals"

	// DecisionPath is the Decision API route; the trailing wildcard lets
	// an endpoint itself contain slashes (e.g. "/v1/cart/items").
	DecisionPath = "/api/config/{service_name}/*"
)

// The collaborator interfaces below narrow this package's dependencies to
// the methods it actually calls, so tests substitute fakes instead of a
// live Redis, Postgres, or SMTP server. The concrete types passed to New
// satisfy these as-is.

type authenticator interface {
	Authenticate(ctx context.Context, header string) (durable.Identity, error)
}

type publisher interface {
	Publish(ctx context.Context, s *signal.Signal) error
}

type thresholdReader interface {
	ReadOne(ctx context.Context, tenantID, service, endpoint string) (threshold.Record, error)
}

type breakerObserver interface {
	Observe(endpointKey string, tripped bool)
}

type metricsSource interface {
	resolve(ctx context.Context, tenantID, service, endpoint, clientID string) (decision.Metrics, string, error)
}

// API holds the collaborators the Ingest and Decision handlers need.
type API struct {
	auth       authenticator
	queue      publisher
	metrics    metricsSource
	thresholds thresholdReader
	breaker    breakerObserver
	alerts     alert.Sender
	alertTo    string

	ingestSeq atomic.Uint64
}

// New builds an API over its collaborators. alerts may be alert.NoopSender{}
// when no SMTP server is configured; alertTo is the recipient address
// for alerts the Decision Engine flags via send_alert.
func New(
	authenticator *auth.Authenticator,
	q *queue.Queue,
	agg *aggregator.Aggregator,
	store *durable.Store,
	thresholds *threshold.Store,
	breakerMirror *breaker.Mirror,
	alerts alert.Sender,
	alertTo string,
) *API {
	return &API{
		auth:       authenticator,
		queue:      q,
		metrics:    newMetricsResolver(agg, store.Snapshots(), store.Signals()),
		thresholds: thresholds,
		breaker:    breakerMirror,
		alerts:     alerts,
		alertTo:    alertTo,
	}
}

// Routes returns the chi-compatible route map for pkg/server.WithHandler.
func (a *API) Routes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		IngestPath:   a.handleIngest,
		DecisionPath: a.handleDecision,
	}
}
