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

package threshold

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/trafficctl/pkg/durable"
)

type fakeRepo struct {
	read      durable.Threshold
	readErr   error
	upserted  *durable.Threshold
	upsertErr error
}

func (f *fakeRepo) ReadOne(ctx context.Context, tenantID, service, endpoint string) (durable.Threshold, error) {
	return f.read, f.readErr
}

func (f *fakeRepo) Upsert(ctx context.Context, th durable.Threshold) error {
	f.upserted = &th
	return f.upsertErr
}

func validRecord() Record {
	return Record{
		CacheLatencyMS:   400,
		BreakerErrorRate: 0.25,
		QueueRPM:         80,
		ShedRPM:          150,
		PerClientRPM:     15,
		Confidence:       0.8,
		Reasoning:        "steady p95, no tuning needed this cycle",
	}
}

func TestReadOneProjectsRow(t *testing.T) {
	confidence := 0.9
	reasoning := "tuned last cycle"
	repo := &fakeRepo{read: durable.Threshold{
		CacheMS: 450, BreakerRate: 0.3, QueueRPM: 80, ShedRPM: 150, PerClientRPM: 15,
		Confidence: &confidence, Reasoning: &reasoning, Source: "tuned",
	}}
	store := &Store{repo: repo}

	rec, err := store.ReadOne(t.Context(), "tenant-a", "checkout", "/v1/cart")
	require.NoError(t, err)
	assert.Equal(t, "tuned", rec.Source)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, "tuned last cycle", rec.Reasoning)
}

func TestUpsertRejectsShedNotGreaterThanQueue(t *testing.T) {
	store := &Store{repo: &fakeRepo{}}

	rec := validRecord()
	rec.ShedRPM = rec.QueueRPM // violates shed > queue

	err := store.Upsert(t.Context(), "tenant-a", "checkout", "/v1/cart", rec)
	require.Error(t, err)
}

func TestUpsertRejectsOutOfRangeField(t *testing.T) {
	store := &Store{repo: &fakeRepo{}}

	rec := validRecord()
	rec.CacheLatencyMS = 5 // below the 10ms floor

	err := store.Upsert(t.Context(), "tenant-a", "checkout", "/v1/cart", rec)
	require.Error(t, err)
}

func TestUpsertPersistsValidRecordAsTuned(t *testing.T) {
	repo := &fakeRepo{}
	store := &Store{repo: repo}

	err := store.Upsert(t.Context(), "tenant-a", "checkout", "/v1/cart", validRecord())
	require.NoError(t, err)
	require.NotNil(t, repo.upserted)
	assert.Equal(t, "tuned", repo.upserted.Source)
	assert.Equal(t, 150, repo.upserted.ShedRPM)
}
