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

// Package decision implements the Decision Engine: a stateless, pure
// function from (metrics, thresholds, priority, time) to a Verdict. It
// never performs I/O — callers assemble Metrics from the Aggregator's
// fallback chain (Fast Store, then Durable Snapshot, then raw signals)
// before calling Evaluate.
package decision

import (
	"fmt"
	"time"

	"github.com/mchmarny/trafficctl/pkg/signal"
)

// minSignals is the gate below which the engine refuses to decide and
// returns allow+"insufficient data" (spec.md §4.6, §8 scenario S7).
const minSignals = 3

// Metrics is the window snapshot the engine reasons over, already
// resolved through whichever tier of the fallback chain produced it.
type Metrics struct {
	// Count is the number of signals backing this snapshot; below
	// minSignals the engine refuses to decide.
	Count int

	AvgLatencyMS float64
	ErrorRate    float64

	// GlobalRPM is the endpoint's aggregate requests-per-minute across all
	// clients; ClientRPM is the requesting client's own rate.
	GlobalRPM float64
	ClientRPM float64

	P50, P95, P99 float64
}

// Thresholds is the per-endpoint knob set the engine compares Metrics
// against. Source records whether these came from a tuned record or the
// factory defaults, and is echoed back on the Verdict.
type Thresholds struct {
	CacheLatencyMS   float64
	BreakerErrorRate float64
	QueueRPM         float64
	ShedRPM          float64
	PerClientRPM     float64
	Source           string
}

// Verdict is the engine's output: the five-action policy plus metadata.
type Verdict struct {
	CacheEnabled      bool
	CircuitBreaker    bool
	RateLimitCustomer bool
	QueueDeferral     bool
	LoadShedding      bool
	SendAlert         bool

	Reasoning string
	Source    string

	// RetryAfterSeconds is set for RateLimitCustomer and the T2a shed rule;
	// zero means unset.
	RetryAfterSeconds int
	// EstimatedDelaySeconds is set for the T2c queue-deferral rule.
	EstimatedDelaySeconds int
}

// Evaluate runs the T1-T7 rule table against metrics and thresholds for a
// request at the given priority, observed at now. The first rule whose
// predicate holds fires; Evaluate returns immediately with that rule's
// Verdict. Identical inputs always produce an identical Verdict.
func Evaluate(now time.Time, m Metrics, th Thresholds, priority signal.Priority) Verdict {
	if m.Count < minSignals {
		return Verdict{
			Reasoning: fmt.Sprintf("insufficient data: %d signals observed, need at least %d", m.Count, minSignals),
			Source:    th.Source,
		}
	}

	critical := priority == signal.PriorityCritical
	lowOrMedium := priority == signal.PriorityLow || priority == signal.PriorityMedium
	low := priority == signal.PriorityLow

	// T1: per-client rate limit, evaluated ahead of priority-scoped rules.
	if m.ClientRPM > th.PerClientRPM {
		retryAfter := 60 - int(now.Unix()%60)
		return Verdict{
			RateLimitCustomer: true,
			RetryAfterSeconds: retryAfter,
			Source:            th.Source,
			Reasoning: fmt.Sprintf("client rate %.0f rpm exceeds per-client limit %.0f rpm",
				m.ClientRPM, th.PerClientRPM),
		}
	}

	if !critical {
		// T2a: hard shed for low/medium priority over the shed threshold.
		if m.GlobalRPM > th.ShedRPM && lowOrMedium {
			return Verdict{
				LoadShedding:      true,
				CacheEnabled:      true,
				RetryAfterSeconds: 30,
				Source:            th.Source,
				Reasoning: fmt.Sprintf("global rate %.0f rpm exceeds shed threshold %.0f rpm at %s priority",
					m.GlobalRPM, th.ShedRPM, priority),
			}
		}
		// T2b: early shed for low priority approaching the shed threshold.
		if m.GlobalRPM > 0.8*th.ShedRPM && low {
			return Verdict{
				LoadShedding: true,
				CacheEnabled: true,
				Source:       th.Source,
				Reasoning: fmt.Sprintf("global rate %.0f rpm exceeds 80%% of shed threshold (%.0f rpm) at low priority",
					m.GlobalRPM, th.ShedRPM),
			}
		}
		// T2c: queue deferral for low/medium priority over the queue threshold.
		if m.GlobalRPM > th.QueueRPM && lowOrMedium {
			return Verdict{
				QueueDeferral:         true,
				CacheEnabled:          true,
				EstimatedDelaySeconds: 10,
				Source:                th.Source,
				Reasoning: fmt.Sprintf("global rate %.0f rpm exceeds queue threshold %.0f rpm at %s priority",
					m.GlobalRPM, th.QueueRPM, priority),
			}
		}
	}

	// T3: breaker trip.
	if m.ErrorRate >= th.BreakerErrorRate {
		return Verdict{
			CircuitBreaker: true,
			SendAlert:      true,
			Source:         th.Source,
			Reasoning: fmt.Sprintf("error rate %.2f meets breaker threshold %.2f",
				m.ErrorRate, th.BreakerErrorRate),
		}
	}

	// T4: elevated errors plus elevated latency together trigger caching
	// even though neither alone would.
	if m.ErrorRate >= 0.5*th.BreakerErrorRate && m.AvgLatencyMS >= 0.8*th.CacheLatencyMS {
		return Verdict{
			CacheEnabled: true,
			Source:       th.Source,
			Reasoning: fmt.Sprintf("error rate %.2f and avg latency %.0fms both elevated relative to thresholds (%.2f, %.0fms)",
				m.ErrorRate, m.AvgLatencyMS, th.BreakerErrorRate, th.CacheLatencyMS),
		}
	}

	// T5: latency-only caching.
	if m.AvgLatencyMS >= th.CacheLatencyMS {
		return Verdict{
			CacheEnabled: true,
			Source:       th.Source,
			Reasoning: fmt.Sprintf("avg latency %.0fms meets cache threshold %.0fms",
				m.AvgLatencyMS, th.CacheLatencyMS),
		}
	}

	// T6: elevated errors alone, observed but not actioned.
	if m.ErrorRate >= 0.5*th.BreakerErrorRate {
		return Verdict{
			Source: th.Source,
			Reasoning: fmt.Sprintf("error rate %.2f elevated relative to breaker threshold %.2f but below action thresholds",
				m.ErrorRate, th.BreakerErrorRate),
		}
	}

	// T7: healthy.
	return Verdict{
		Source:    th.Source,
		Reasoning: "all metrics within normal range",
	}
}
