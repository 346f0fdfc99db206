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

package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mchmarny/trafficctl/pkg/signal"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		CacheLatencyMS:   500,
		BreakerErrorRate: 0.30,
		QueueRPM:         80,
		ShedRPM:          150,
		PerClientRPM:     15,
		Source:           "default",
	}
}

var fixedNow = time.Date(2026, 7, 30, 12, 0, 30, 0, time.UTC)

func TestS1ClientBurstRateLimits(t *testing.T) {
	m := Metrics{Count: 10, ClientRPM: 20, GlobalRPM: 5, AvgLatencyMS: 50, ErrorRate: 0}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.True(t, v.RateLimitCustomer)
	assert.False(t, v.CacheEnabled)
	assert.False(t, v.CircuitBreaker)
	assert.False(t, v.QueueDeferral)
	assert.False(t, v.LoadShedding)
	assert.GreaterOrEqual(t, v.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, v.RetryAfterSeconds, 60)
}

func TestS2OverloadShed(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 170, ClientRPM: 2, AvgLatencyMS: 50, ErrorRate: 0}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.True(t, v.LoadShedding)
	assert.True(t, v.CacheEnabled)
}

func TestS3ModerateLoadQueues(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 100, ClientRPM: 2, AvgLatencyMS: 50, ErrorRate: 0}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityLow)

	assert.True(t, v.QueueDeferral)
	assert.True(t, v.CacheEnabled)
	assert.Equal(t, 10, v.EstimatedDelaySeconds)
}

func TestS4CriticalBypassesShedAndQueue(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 200, ClientRPM: 2, AvgLatencyMS: 100, ErrorRate: 0.01}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityCritical)

	assert.False(t, v.LoadShedding)
	assert.False(t, v.QueueDeferral)
	assert.False(t, v.CacheEnabled)
	assert.False(t, v.CircuitBreaker)
	assert.Equal(t, "default", v.Source)
}

func TestS5BreakerTrip(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 10, ClientRPM: 2, AvgLatencyMS: 120, ErrorRate: 0.35}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.True(t, v.CircuitBreaker)
	assert.True(t, v.SendAlert)
}

func TestS6CacheOnLatency(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 10, ClientRPM: 2, AvgLatencyMS: 550, ErrorRate: 0.02}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.True(t, v.CacheEnabled)
	assert.False(t, v.CircuitBreaker)
}

func TestS7InsufficientData(t *testing.T) {
	m := Metrics{Count: 2}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.False(t, v.CacheEnabled)
	assert.Contains(t, v.Reasoning, "insufficient data")
}

func TestT1PrecedesAllOtherRules(t *testing.T) {
	// Every other predicate is also true, but T1 must still win.
	m := Metrics{Count: 10, ClientRPM: 100, GlobalRPM: 500, AvgLatencyMS: 900, ErrorRate: 0.9}
	v := Evaluate(fixedNow, m, defaultThresholds(), signal.PriorityMedium)

	assert.True(t, v.RateLimitCustomer)
	assert.False(t, v.LoadShedding)
	assert.False(t, v.CircuitBreaker)
}

func TestT2PrecedenceOrder(t *testing.T) {
	th := defaultThresholds()

	// Global rpm over shed and low/medium -> T2a, not T2c.
	a := Evaluate(fixedNow, Metrics{Count: 5, ClientRPM: 1, GlobalRPM: th.ShedRPM + 1}, th, signal.PriorityMedium)
	assert.True(t, a.LoadShedding)
	assert.False(t, a.QueueDeferral)

	// Global rpm between 0.8*shed and shed, low priority -> T2b.
	b := Evaluate(fixedNow, Metrics{Count: 5, ClientRPM: 1, GlobalRPM: th.ShedRPM - 1}, th, signal.PriorityLow)
	assert.True(t, b.LoadShedding)
	assert.Zero(t, b.RetryAfterSeconds) // T2b does not set Retry-After, unlike T2a

	// Global rpm over queue but below shed, medium priority -> T2c.
	c := Evaluate(fixedNow, Metrics{Count: 5, ClientRPM: 1, GlobalRPM: th.QueueRPM + 1}, th, signal.PriorityMedium)
	assert.True(t, c.QueueDeferral)
	assert.False(t, c.LoadShedding)
}

func TestCriticalNeverQueuesOrSheds(t *testing.T) {
	th := defaultThresholds()
	m := Metrics{Count: 10, ClientRPM: 1, GlobalRPM: th.ShedRPM * 10, AvgLatencyMS: 10, ErrorRate: 0}
	v := Evaluate(fixedNow, m, th, signal.PriorityCritical)

	assert.False(t, v.QueueDeferral)
	assert.False(t, v.LoadShedding)
}

func TestEvaluateIsPure(t *testing.T) {
	m := Metrics{Count: 10, GlobalRPM: 100, ClientRPM: 2, AvgLatencyMS: 550, ErrorRate: 0.1}
	th := defaultThresholds()

	first := Evaluate(fixedNow, m, th, signal.PriorityLow)
	second := Evaluate(fixedNow, m, th, signal.PriorityLow)

	assert.Equal(t, first, second)
}
