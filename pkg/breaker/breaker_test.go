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

package breaker

import (
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

func TestMirrorOpensAfterConsecutiveTrips(t *testing.T) {
	m := New(nil)
	key := "tenant-a/checkout//v1/cart"

	assert.False(t, m.IsOpen(key))

	for i := 0; i < 3; i++ {
		m.Observe(key, true)
	}

	assert.True(t, m.IsOpen(key))
}

func TestMirrorStaysClosedOnHealthyObservations(t *testing.T) {
	m := New(nil)
	key := "tenant-a/checkout//v1/cart"

	for i := 0; i < 5; i++ {
		m.Observe(key, false)
	}

	assert.False(t, m.IsOpen(key))
}

func TestMirrorKeysAreIndependent(t *testing.T) {
	m := New(nil)

	for i := 0; i < 3; i++ {
		m.Observe("endpoint-a", true)
	}
	m.Observe("endpoint-b", false)

	assert.True(t, m.IsOpen("endpoint-a"))
	assert.False(t, m.IsOpen("endpoint-b"))
}

func TestMirrorReportsStateChange(t *testing.T) {
	var transitions []gobreaker.State
	m := New(func(endpointKey string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	for i := 0; i < 3; i++ {
		m.Observe("endpoint-a", true)
	}

	assert.Contains(t, transitions, gobreaker.StateOpen)
}
