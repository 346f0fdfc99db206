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

package defaults

import (
	"testing"
	"time"
)

func TestTimeoutConstants(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		minValue time.Duration
		maxValue time.Duration
	}{
		// Handler timeouts
		{"IngestHandlerTimeout", IngestHandlerTimeout, 1 * time.Second, 15 * time.Second},
		{"DecisionHandlerTimeout", DecisionHandlerTimeout, 1 * time.Second, 10 * time.Second},

		// Server timeouts
		{"ServerReadTimeout", ServerReadTimeout, 1 * time.Second, 30 * time.Second},
		{"ServerWriteTimeout", ServerWriteTimeout, 5 * time.Second, 60 * time.Second},
		{"ServerIdleTimeout", ServerIdleTimeout, 30 * time.Second, 300 * time.Second},
		{"ServerShutdownTimeout", ServerShutdownTimeout, 10 * time.Second, 60 * time.Second},

		// Fast Store timeouts
		{"FastStoreDialTimeout", FastStoreDialTimeout, 1 * time.Second, 10 * time.Second},
		{"FastStoreOpTimeout", FastStoreOpTimeout, 100 * time.Millisecond, 2 * time.Second},

		// Durable Store timeouts
		{"DurableStoreConnectTimeout", DurableStoreConnectTimeout, 1 * time.Second, 15 * time.Second},
		{"DurableStoreQueryTimeout", DurableStoreQueryTimeout, 1 * time.Second, 10 * time.Second},

		// Queue timeouts
		{"QueueReadBlockTimeout", QueueReadBlockTimeout, 500 * time.Millisecond, 10 * time.Second},
		{"QueueAckTimeout", QueueAckTimeout, 100 * time.Millisecond, 5 * time.Second},

		// Advisor timeout
		{"AdvisorRequestTimeout", AdvisorRequestTimeout, 5 * time.Second, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.timeout < tt.minValue {
				t.Errorf("%s (%v) is below minimum expected value (%v)", tt.name, tt.timeout, tt.minValue)
			}
			if tt.timeout > tt.maxValue {
				t.Errorf("%s (%v) is above maximum expected value (%v)", tt.name, tt.timeout, tt.maxValue)
			}
		})
	}
}

func TestDecisionHandlerTimeoutAccommodatesFallback(t *testing.T) {
	// The raw-signal fallback is an internal step of handling a decision
	// request, so it must fit comfortably inside the handler's own timeout.
	if DecisionFallbackTimeout >= DecisionHandlerTimeout {
		t.Errorf("DecisionFallbackTimeout (%v) should be less than DecisionHandlerTimeout (%v)",
			DecisionFallbackTimeout, DecisionHandlerTimeout)
	}
}

func TestServerTimeoutRelationships(t *testing.T) {
	// Idle timeout should be longer than write timeout
	if ServerIdleTimeout < ServerWriteTimeout {
		t.Errorf("ServerIdleTimeout (%v) should be at least ServerWriteTimeout (%v)",
			ServerIdleTimeout, ServerWriteTimeout)
	}
}

func TestFastStoreOpTimeoutLessThanDialTimeout(t *testing.T) {
	// A single command should return well within the time it takes to dial.
	if FastStoreOpTimeout >= FastStoreDialTimeout {
		t.Errorf("FastStoreOpTimeout (%v) should be less than FastStoreDialTimeout (%v)",
			FastStoreOpTimeout, FastStoreDialTimeout)
	}
}

func TestQueueAckTimeoutLessThanReadBlockTimeout(t *testing.T) {
	if QueueAckTimeout >= QueueReadBlockTimeout {
		t.Errorf("QueueAckTimeout (%v) should be less than QueueReadBlockTimeout (%v)",
			QueueAckTimeout, QueueReadBlockTimeout)
	}
}

func TestRollupIntervalRelationships(t *testing.T) {
	if RollupHourlyInterval >= RollupDailyInterval {
		t.Errorf("RollupHourlyInterval (%v) should be less than RollupDailyInterval (%v)",
			RollupHourlyInterval, RollupDailyInterval)
	}
}

func TestAdvisorMinConfidenceInRange(t *testing.T) {
	if AdvisorMinConfidence <= 0 || AdvisorMinConfidence >= 1 {
		t.Errorf("AdvisorMinConfidence (%v) should be in (0, 1)", AdvisorMinConfidence)
	}
}
