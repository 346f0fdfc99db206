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

// Package breaker mirrors the Decision Engine's T3 verdict into a
// per-endpoint sony/gobreaker state machine. It never gates a request —
// pkg/decision stays a pure function with no breaker dependency — it only
// gives dashboards and the Tuner an observable, debounced view of "this
// endpoint has been tripping repeatedly" instead of a single noisy sample.
package breaker

import (
	"errors"
	"sync"

	"github.com/sony/gobreaker"
)

var errTripped = errors.New("breaker: decision engine reported circuit_breaker=true")

// StateChangeFunc is called whenever a mirrored breaker transitions state,
// named by endpoint key. Wire it to pkg/logging or a metrics recorder.
type StateChangeFunc func(endpointKey string, from, to gobreaker.State)

// Mirror holds one gobreaker.CircuitBreaker per endpoint key, created
// lazily on first observation.
type Mirror struct {
	mu         sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker
	onStateChg StateChangeFunc
}

// New builds an empty Mirror. onStateChange may be nil.
func New(onStateChange StateChangeFunc) *Mirror {
	return &Mirror{
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		onStateChg: onStateChange,
	}
}

// Observe records one Decision Engine verdict for endpointKey: tripped
// should be the verdict's CircuitBreaker field. Three consecutive tripped
// observations open the mirror; gobreaker's half-open probe then requires
// one success to close it again.
func (m *Mirror) Observe(endpointKey string, tripped bool) {
	cb := m.breakerFor(endpointKey)
	_, _ = cb.Execute(func() (interface{}, error) {
		if tripped {
			return nil, errTripped
		}
		return nil, nil
	})
}

// IsOpen reports whether the mirrored breaker for endpointKey is currently
// open (or half-open), the signal the Tuner uses to skip tuning an
// actively-failing endpoint (SPEC_FULL.md §4.6/§4.7).
func (m *Mirror) IsOpen(endpointKey string) bool {
	cb := m.breakerFor(endpointKey)
	return cb.State() != gobreaker.StateClosed
}

func (m *Mirror) breakerFor(endpointKey string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[endpointKey]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: endpointKey,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if m.onStateChg != nil {
				m.onStateChg(name, from, to)
			}
		},
	})
	m.breakers[endpointKey] = cb
	return cb
}
