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

package advisor

import "fmt"

// buildPrompt renders the calculation rules the control plane wants the
// Advisor to apply. The rules themselves (multipliers, minimums, the
// ShedRPM>QueueRPM invariant) come from spec.md §6; priorReasoning, when
// non-empty, asks the Advisor to treat this as a continuation of its own
// earlier tuning rather than an independent guess.
func buildPrompt(service, endpoint string, m Metrics, cur Current, priorReasoning string) string {
	continuation := ""
	if priorReasoning != "" {
		continuation = fmt.Sprintf(`

## Previous Tuning Cycle
Last time you tuned this endpoint, you reasoned:
%q

Treat this as a continuation of that analysis. Only move thresholds further if the
metrics below justify it; otherwise keep them close to last cycle's values.`, priorReasoning)
	}

	return fmt.Sprintf(`You are a senior SRE analyzing traffic-management thresholds for one API endpoint.

## Service Context
- Service: %s
- Endpoint: %s
- Data volume: %d requests

## Current Performance Metrics
- Requests per minute: %.1f RPM
- Average latency: %.1fms
- p50: %.1fms, p95: %.1fms, p99: %.1fms
- Error rate: %.2f%%

## Current Threshold Configuration
- cache_latency_ms: %d
- circuit_breaker_error_rate: %.2f
- queue_deferral_rpm: %d
- load_shedding_rpm: %d
- rate_limit_customer_rpm: %d
%s
## Calculation Rules

1. cache_latency_ms (10-5000): start from p95*1.20; use p95*1.30 if p50<50ms, p95*1.15 if
   p50>200ms; must be >= p50; round to the nearest 10ms.
2. circuit_breaker_error_rate (0.01-1.0): if error rate < 0.02 use 0.15; otherwise error
   rate * 2.0, never below 0.10 (never below 0.12 for a critical service).
3. queue_deferral_rpm (10-1000): if p95 > 1.5*p50 and traffic is high, current RPM * 0.7;
   otherwise 80-90%% of estimated capacity; with fewer than 100 requests, current RPM * 1.5.
4. load_shedding_rpm (20-5000): must exceed queue_deferral_rpm; queue_deferral_rpm * 1.40,
   with at least a 20 RPM gap between the two.
5. rate_limit_customer_rpm (5-500): estimate RPM per customer and allow a 3-5x burst over
   that average; never below 5.

Set confidence "low" below 50 requests, "medium" between 50 and 500, "high" above 500.

Write reasoning as 2-3 short plain-language sentences a non-technical reader could follow:
what you observed, why you chose these values, what it accomplishes. No jargon.

Call threshold_recommendation with your answer.`,
		service, endpoint, m.Count,
		m.RequestsPerMinute, m.AvgLatencyMS, m.P50, m.P95, m.P99, m.ErrorRate*100,
		cur.CacheLatencyMS, cur.BreakerErrorRate, cur.QueueRPM, cur.ShedRPM, cur.PerClientRPM,
		continuation,
	)
}
