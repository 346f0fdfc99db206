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

package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mchmarny/trafficctl/pkg/aggregator"
)

func TestWindowScanPatternMatchesOnlyOneWindow(t *testing.T) {
	assert.Equal(t, "rt_agg:tenant:*:service:*:endpoint:*:1h", windowScanPattern(aggregator.Window1h))
	assert.Equal(t, "rt_agg:tenant:*:service:*:endpoint:*:24h", windowScanPattern(aggregator.Window24h))
}

func TestParseWindowKeyRecoversTenantServiceEndpoint(t *testing.T) {
	key := "rt_agg:tenant:acme:service:checkout:endpoint:/v1/cart:1h"

	tenantID, service, endpoint, ok := parseWindowKey(key, aggregator.Window1h)

	assert.True(t, ok)
	assert.Equal(t, "acme", tenantID)
	assert.Equal(t, "checkout", service)
	assert.Equal(t, "/v1/cart", endpoint)
}

func TestParseWindowKeyRejectsLatenciesReservoirKey(t *testing.T) {
	key := "rt_agg:tenant:acme:service:checkout:endpoint:/v1/cart:1h:latencies"

	_, _, _, ok := parseWindowKey(key, aggregator.Window1h)

	assert.False(t, ok)
}

func TestParseWindowKeyRejectsPerClientKey(t *testing.T) {
	key := "rt_agg:tenant:acme:service:checkout:endpoint:/v1/cart:customer:cust-1:1m:29200000"

	_, _, _, ok := parseWindowKey(key, aggregator.Window1h)

	assert.False(t, ok)
}

func TestParseWindowKeyRejectsWrongWindowSuffix(t *testing.T) {
	key := "rt_agg:tenant:acme:service:checkout:endpoint:/v1/cart:24h"

	_, _, _, ok := parseWindowKey(key, aggregator.Window1h)

	assert.False(t, ok)
}

func TestParseWindowKeyRejectsMalformedKey(t *testing.T) {
	_, _, _, ok := parseWindowKey("not-a-valid-key", aggregator.Window1h)

	assert.False(t, ok)
}
