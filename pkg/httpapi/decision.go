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

package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mchmarny/trafficctl/pkg/alert"
	"github.com/mchmarny/trafficctl/pkg/decision"
	"github.com/mchmarny/trafficctl/pkg/defaults"
	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
	"github.com/mchmarny/trafficctl/pkg/server"
	"github.com/mchmarny/trafficctl/pkg/serializer"
	"github.com/mchmarny/trafficctl/pkg/signal"
	"github.com/mchmarny/trafficctl/pkg/threshold"
)

// decisionResponse is the wire shape of GET /api/config/... (spec.md
// §4.5): the HTTP status is always 200, StatusCode is the advisory value
// the agent mirrors upstream.
type decisionResponse struct {
	ServiceName           string `json:"service_name"`
	Endpoint              string `json:"endpoint"`
	TenantID              string `json:"tenant_id"`
	CacheEnabled          bool   `json:"cache_enabled"`
	CircuitBreaker        bool   `json:"circuit_breaker"`
	RateLimitedCustomer   bool   `json:"rate_limited_customer"`
	QueueDeferral         bool   `json:"queue_deferral"`
	LoadShedding          bool   `json:"load_shedding"`
	Reason                string `json:"reason"`
	StatusCode            int    `json:"status_code"`
	RetryAfterSeconds     int    `json:"retry_after,omitempty"`
	EstimatedDelaySeconds int    `json:"estimated_delay,omitempty"`
}

// handleDecision implements GET /api/config/{service_name}/*
// (spec.md §4.5): authenticate, resolve metrics through the fallback
// chain, read thresholds, evaluate, and mirror the verdict into the
// breaker and (for send_alert) the Alert collaborator.
func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		server.WriteError(w, r, http.StatusMethodNotAllowed, cnserrors.ErrCodeMethodNotAllowed,
			"only GET is supported", false, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaults.DecisionHandlerTimeout)
	defer cancel()

	if _, err := a.auth.Authenticate(ctx, r.Header.Get("Authorization")); err != nil {
		server.WriteErrorFromErr(w, r, err, "authentication failed", nil)
		return
	}

	serviceName := chi.URLParam(r, "service_name")
	endpoint := "/" + chi.URLParam(r, "*")
	tenantID := r.URL.Query().Get("tenant_id")
	if serviceName == "" || endpoint == "/" || tenantID == "" {
		server.WriteError(w, r, http.StatusBadRequest, cnserrors.ErrCodeInvalidRequest,
			"service_name, endpoint, and tenant_id are required", false, nil)
		return
	}

	priority := signal.Priority(r.URL.Query().Get("priority"))
	if priority == "" {
		priority = signal.PriorityMedium
	} else if !priority.Valid() {
		server.WriteError(w, r, http.StatusBadRequest, cnserrors.ErrCodeInvalidRequest,
			"priority must be one of critical, high, medium, low", false, nil)
		return
	}
	customerID := r.URL.Query().Get("customer_identifier")

	metrics, _, err := a.metrics.resolve(ctx, tenantID, serviceName, endpoint, customerID)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to resolve metrics", nil)
		return
	}

	rec, err := a.thresholds.ReadOne(ctx, tenantID, serviceName, endpoint)
	if err != nil {
		server.WriteErrorFromErr(w, r, err, "failed to read thresholds", nil)
		return
	}

	verdict := decision.Evaluate(time.Now(), metrics, toDecisionThresholds(rec), priority)

	endpointKey := tenantID + ":" + serviceName + ":" + endpoint
	a.breaker.Observe(endpointKey, verdict.CircuitBreaker)

	if verdict.SendAlert && a.alertTo != "" {
		go a.sendAlert(tenantID, serviceName, endpoint, metrics, verdict)
	}

	serializer.RespondJSON(w, http.StatusOK, decisionResponse{
		ServiceName:           serviceName,
		Endpoint:              endpoint,
		TenantID:              tenantID,
		CacheEnabled:          verdict.CacheEnabled,
		CircuitBreaker:        verdict.CircuitBreaker,
		RateLimitedCustomer:   verdict.RateLimitCustomer,
		QueueDeferral:         verdict.QueueDeferral,
		LoadShedding:          verdict.LoadShedding,
		Reason:                verdict.Reasoning,
		StatusCode:            advisoryStatusCode(verdict),
		RetryAfterSeconds:     verdict.RetryAfterSeconds,
		EstimatedDelaySeconds: verdict.EstimatedDelaySeconds,
	})
}

// advisoryStatusCode maps a Verdict to the advisory status_code field
// (spec.md §4.5/§6): 503 for shedding, 429 for per-client limiting, 202
// for queue deferral, 200 otherwise. Load shedding and rate limiting
// take priority over deferral since both represent a harder "don't serve
// this yet" than a deferred retry.
func advisoryStatusCode(v decision.Verdict) int {
	switch {
	case v.LoadShedding:
		return http.StatusServiceUnavailable
	case v.RateLimitCustomer:
		return http.StatusTooManyRequests
	case v.QueueDeferral:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func toDecisionThresholds(rec threshold.Record) decision.Thresholds {
	return decision.Thresholds{
		CacheLatencyMS:   float64(rec.CacheLatencyMS),
		BreakerErrorRate: rec.BreakerErrorRate,
		QueueRPM:         float64(rec.QueueRPM),
		ShedRPM:          float64(rec.ShedRPM),
		PerClientRPM:     float64(rec.PerClientRPM),
		Source:           rec.Source,
	}
}

// sendAlert delivers a circuit-breaker alert as a background task; the
// Decision API never awaits it (spec.md §4.5).
func (a *API) sendAlert(tenantID, serviceName, endpoint string, m decision.Metrics, v decision.Verdict) {
	ctx, cancel := context.WithTimeout(context.Background(), defaults.AlertSendTimeout)
	defer cancel()

	err := a.alerts.Send(ctx, a.alertTo, alert.Alert{
		TenantID:    tenantID,
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Reason:      v.Reasoning,
		ErrorRate:   m.ErrorRate,
		TriggeredAt: time.Now(),
	})
	if err != nil {
		slog.Error("httpapi: alert send failed", "tenant", tenantID, "service", serviceName, "endpoint", endpoint, "error", err)
	}
}
