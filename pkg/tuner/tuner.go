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

// Package tuner is the Tuner: a periodic background worker that asks the
// Advisor to re-evaluate thresholds for every endpoint with enough recent
// traffic, applying the recommendation when the Advisor is confident
// enough and always recording an Insight either way.
package tuner

import (
	"context"
	"log/slog"
	"time"

	"github.com/mchmarny/trafficctl/pkg/advisor"
	"github.com/mchmarny/trafficctl/pkg/aggregator"
	"github.com/mchmarny/trafficctl/pkg/breaker"
	"github.com/mchmarny/trafficctl/pkg/defaults"
	"github.com/mchmarny/trafficctl/pkg/durable"
	"github.com/mchmarny/trafficctl/pkg/threshold"
)

// minSignalsToTune is the per-endpoint sample floor below which a tuning
// pass is skipped outright (spec.md §4.7: "at least 10 signals in the
// last hour").
const minSignalsToTune = 10

// endpointLister discovers candidate (tenant, service, endpoint) triples,
// satisfied by *durable.RollupRepo.
type endpointLister interface {
	DistinctEndpoints(ctx context.Context, from, to time.Time) ([]durable.EndpointKey, error)
}

// insightWriter records Tuner output, satisfied by *durable.InsightRepo.
type insightWriter interface {
	Insert(ctx context.Context, in durable.Insight) error
}

// metricsReader resolves the current window snapshot for an endpoint,
// satisfied by *aggregator.Aggregator.
type metricsReader interface {
	Read(ctx context.Context, tenantID, service, endpoint string, w aggregator.Window) (aggregator.Metrics, bool, error)
}

// thresholdStore reads and applies tuned thresholds, satisfied by
// *threshold.Store.
type thresholdStore interface {
	ReadOne(ctx context.Context, tenantID, service, endpoint string) (threshold.Record, error)
	Upsert(ctx context.Context, tenantID, service, endpoint string, rec threshold.Record) error
}

// advisorClient recommends new thresholds, satisfied by *advisor.Client.
type advisorClient interface {
	Recommend(ctx context.Context, service, endpoint string, m advisor.Metrics, cur advisor.Current, priorReasoning string) (advisor.Recommendation, error)
}

// breakerMirror reports whether an endpoint's mirrored circuit breaker is
// currently open, satisfied by *breaker.Mirror.
type breakerMirror interface {
	IsOpen(endpointKey string) bool
}

// Tuner wires the Aggregator, Advisor, Threshold Store, and breaker
// Mirror together into one periodic pass.
type Tuner struct {
	rollups    endpointLister
	insights   insightWriter
	aggregator metricsReader
	thresholds thresholdStore
	advisor    advisorClient
	mirror     breakerMirror
	interval   time.Duration
}

// Option configures a Tuner.
type Option func(*Tuner)

// WithInterval overrides the default tuning cadence (defaults.TunerInterval).
func WithInterval(d time.Duration) Option {
	return func(t *Tuner) { t.interval = d }
}

// New builds a Tuner. adv may be nil, in which case Run blocks without
// tuning anything (config.Config.AdvisorEnabled gates whether the caller
// constructs one at all); mirror may also be nil to disable the
// breaker-open skip.
func New(store *durable.Store, agg *aggregator.Aggregator, th *threshold.Store, adv *advisor.Client, mirror *breaker.Mirror, opts ...Option) *Tuner {
	t := &Tuner{
		rollups:    store.Rollups(),
		insights:   store.Insights(),
		aggregator: agg,
		thresholds: th,
		interval:   defaults.TunerInterval,
	}
	if adv != nil {
		t.advisor = adv
	}
	if mirror != nil {
		t.mirror = mirror
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// newForTest builds a Tuner directly from narrow interfaces, bypassing
// New's concrete-type wiring so tests can substitute fakes.
func newForTest(rollups endpointLister, insights insightWriter, agg metricsReader, th thresholdStore, adv advisorClient, mirror breakerMirror) *Tuner {
	return &Tuner{
		rollups:    rollups,
		insights:   insights,
		aggregator: agg,
		thresholds: th,
		advisor:    adv,
		mirror:     mirror,
		interval:   defaults.TunerInterval,
	}
}

// Run blocks, tuning every interval until ctx is canceled.
func (t *Tuner) Run(ctx context.Context) error {
	if t.advisor == nil {
		slog.Warn("tuner disabled: no advisor client configured")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.tuneAll(ctx)
	for {
		select {
		case <-ticker.C:
			t.tuneAll(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tuneAll discovers every endpoint with recent traffic and tunes each in
// turn. A single endpoint failing never aborts the pass, matching
// background_analyzer.py's per-endpoint try/continue loop.
func (t *Tuner) tuneAll(ctx context.Context) {
	now := time.Now()
	endpoints, err := t.rollups.DistinctEndpoints(ctx, now.Add(-time.Hour), now)
	if err != nil {
		slog.Error("tuner: list endpoints failed", "error", err)
		return
	}

	tuned := 0
	for _, ep := range endpoints {
		ok, err := t.tuneOne(ctx, ep)
		if err != nil {
			slog.Error("tuner: endpoint analysis failed",
				"tenant", ep.TenantID, "service", ep.Service, "endpoint", ep.Endpoint, "error", err)
			continue
		}
		if ok {
			tuned++
		}
	}
	slog.Info("tuner: pass complete", "endpoints_considered", len(endpoints), "endpoints_tuned", tuned)
}

// tuneOne runs one endpoint through the Advisor and returns whether a
// Recommendation was applied (true only when confidence was medium/high
// and the threshold store accepted the record).
func (t *Tuner) tuneOne(ctx context.Context, ep durable.EndpointKey) (bool, error) {
	endpointKey := ep.TenantID + "/" + ep.Service + "/" + ep.Endpoint

	if t.mirror != nil && t.mirror.IsOpen(endpointKey) {
		return false, t.insights.Insert(ctx, durable.Insight{
			TenantID:    ep.TenantID,
			ServiceName: ep.Service,
			Endpoint:    ep.Endpoint,
			Kind:        durable.InsightAnomaly,
			Summary:     "Skipped tuning this cycle: the circuit breaker for this endpoint is currently open.",
			CreatedAt:   time.Now(),
		})
	}

	metrics, found, err := t.aggregator.Read(ctx, ep.TenantID, ep.Service, ep.Endpoint, aggregator.Window1h)
	if err != nil {
		return false, err
	}
	if !found || metrics.Count < minSignalsToTune {
		return false, nil
	}

	current, err := t.thresholds.ReadOne(ctx, ep.TenantID, ep.Service, ep.Endpoint)
	if err != nil {
		return false, err
	}

	rec, err := t.advisor.Recommend(ctx,
		ep.Service, ep.Endpoint,
		advisor.Metrics{
			Count:             int(metrics.Count),
			RequestsPerMinute: metrics.RequestsPerMinute,
			AvgLatencyMS:      metrics.AvgLatencyMS,
			P50:               metrics.P50,
			P95:               metrics.P95,
			P99:               metrics.P99,
			ErrorRate:         metrics.ErrorRate,
		},
		advisor.Current{
			CacheLatencyMS:   current.CacheLatencyMS,
			BreakerErrorRate: current.BreakerErrorRate,
			QueueRPM:         current.QueueRPM,
			ShedRPM:          current.ShedRPM,
			PerClientRPM:     current.PerClientRPM,
		},
		current.Reasoning,
	)
	if err != nil {
		slog.Warn("tuner: advisor call failed, leaving thresholds unchanged",
			"service", ep.Service, "endpoint", ep.Endpoint, "error", err)
		return false, t.insights.Insert(ctx, durable.Insight{
			TenantID:    ep.TenantID,
			ServiceName: ep.Service,
			Endpoint:    ep.Endpoint,
			Kind:        durable.InsightAnomaly,
			Summary:     "Advisor call failed this cycle; thresholds left unchanged. " + err.Error(),
			CreatedAt:   time.Now(),
		})
	}

	applied := false
	if rec.Confidence == advisor.ConfidenceMedium || rec.Confidence == advisor.ConfidenceHigh {
		err := t.thresholds.Upsert(ctx, ep.TenantID, ep.Service, ep.Endpoint, threshold.Record{
			CacheLatencyMS:   rec.CacheLatencyMS,
			BreakerErrorRate: rec.BreakerErrorRate,
			QueueRPM:         rec.QueueRPM,
			ShedRPM:          rec.ShedRPM,
			PerClientRPM:     rec.PerClientRPM,
			Confidence:       confidenceScore(rec.Confidence),
			Reasoning:        rec.Reasoning,
		})
		if err != nil {
			return false, err
		}
		applied = true
	}

	return applied, t.insights.Insert(ctx, durable.Insight{
		TenantID:    ep.TenantID,
		ServiceName: ep.Service,
		Endpoint:    ep.Endpoint,
		Kind:        durable.InsightRecommendation,
		Summary:     rec.Reasoning,
		Confidence:  floatPtr(confidenceScore(rec.Confidence)),
		CreatedAt:   time.Now(),
	})
}

// confidenceScore maps the Advisor's three-level confidence onto the
// numeric scale ai_insights.confidence stores, mirroring
// background_analyzer.py's _confidence_to_float.
func confidenceScore(c advisor.Confidence) float64 {
	switch c {
	case advisor.ConfidenceHigh:
		return 1.0
	case advisor.ConfidenceMedium:
		return 0.7
	default:
		return 0.5
	}
}

func floatPtr(v float64) *float64 { return &v }
