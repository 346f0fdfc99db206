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

package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/trafficctl/pkg/signal"
)

type fakeAggregator struct {
	err    error
	calls  int
	signal *signal.Signal
}

func (f *fakeAggregator) Update(ctx context.Context, s *signal.Signal) error {
	f.calls++
	f.signal = s
	return f.err
}

type fakeSignalStore struct {
	err    error
	stored []*signal.Signal
}

func (f *fakeSignalStore) Insert(ctx context.Context, s *signal.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, s)
	return nil
}

type fakeCache struct {
	keys    []string
	deleted []string
}

func (f *fakeCache) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	return f.keys, nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func newSignal(status signal.Status) *signal.Signal {
	return &signal.Signal{
		TenantID:    "tenant-a",
		ServiceName: "checkout",
		Endpoint:    "/v1/cart",
		Status:      status,
		LatencyMS:   120,
	}
}

func TestProcessAlwaysStoresErrors(t *testing.T) {
	signals := &fakeSignalStore{}
	c := newForTest(nil, &fakeAggregator{}, signals, &fakeCache{}, 0.0)

	err := c.Process(context.Background(), newSignal(signal.StatusError))

	require.NoError(t, err)
	assert.Len(t, signals.stored, 1)
}

func TestProcessSamplesSuccessesAtZeroRate(t *testing.T) {
	signals := &fakeSignalStore{}
	c := newForTest(nil, &fakeAggregator{}, signals, &fakeCache{}, 0.0)

	err := c.Process(context.Background(), newSignal(signal.StatusSuccess))

	require.NoError(t, err)
	assert.Empty(t, signals.stored)
}

func TestProcessStoresSuccessesAtFullSamplingRate(t *testing.T) {
	signals := &fakeSignalStore{}
	c := newForTest(nil, &fakeAggregator{}, signals, &fakeCache{}, 1.0)

	err := c.Process(context.Background(), newSignal(signal.StatusSuccess))

	require.NoError(t, err)
	assert.Len(t, signals.stored, 1)
}

func TestProcessToleratesAggregatorFailure(t *testing.T) {
	signals := &fakeSignalStore{}
	agg := &fakeAggregator{err: errors.New("redis unavailable")}
	c := newForTest(nil, agg, signals, &fakeCache{}, 1.0)

	err := c.Process(context.Background(), newSignal(signal.StatusSuccess))

	require.NoError(t, err)
	assert.Equal(t, 1, agg.calls)
	assert.Len(t, signals.stored, 1)
}

func TestProcessPropagatesSignalStoreFailure(t *testing.T) {
	signals := &fakeSignalStore{err: errors.New("db unavailable")}
	c := newForTest(nil, &fakeAggregator{}, signals, &fakeCache{}, 1.0)

	err := c.Process(context.Background(), newSignal(signal.StatusError))

	assert.Error(t, err)
}

func TestProcessInvalidatesTenantCachePrefix(t *testing.T) {
	cache := &fakeCache{keys: []string{"decision_cache:tenant:tenant-a:checkout:/v1/cart"}}
	c := newForTest(nil, &fakeAggregator{}, &fakeSignalStore{}, cache, 1.0)

	err := c.Process(context.Background(), newSignal(signal.StatusSuccess))

	require.NoError(t, err)
	assert.Equal(t, cache.keys, cache.deleted)
}

func TestProcessSkipsCacheDeleteWhenNoKeysMatch(t *testing.T) {
	cache := &fakeCache{}
	c := newForTest(nil, &fakeAggregator{}, &fakeSignalStore{}, cache, 1.0)

	err := c.Process(context.Background(), newSignal(signal.StatusSuccess))

	require.NoError(t, err)
	assert.Empty(t, cache.deleted)
}

func TestCacheKeyPatternScopesToTenant(t *testing.T) {
	assert.Equal(t, "decision_cache:tenant:tenant-a:*", cacheKeyPattern("tenant-a"))
}
