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

// Package threshold is the Threshold Store: per-endpoint Decision Engine
// knobs with upsert semantics, range validation, and a source tag
// (default vs tuned). It sits on top of pkg/durable's ThresholdRepo and
// adds the validation the repository trusts its callers to have already
// performed.
package threshold

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mchmarny/trafficctl/pkg/durable"
	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Record is the Threshold Store's public shape, validated with struct
// tags for the independent per-field ranges from spec.md §4.3. The
// shed>queue cross-field invariant is awkward to express as a tag and is
// checked separately in Upsert.
type Record struct {
	CacheLatencyMS    int     `validate:"gte=10,lte=5000"`
	BreakerErrorRate  float64 `validate:"gte=0.01,lte=1.0"`
	QueueRPM          int     `validate:"gte=10,lte=1000"`
	ShedRPM           int     `validate:"gte=20,lte=5000"`
	PerClientRPM      int     `validate:"gte=5,lte=500"`
	Confidence        float64 `validate:"gte=0,lte=1"`
	Reasoning         string
	Source            string
}

// repository is the subset of durable.ThresholdRepo this package depends
// on, narrowed to an interface so tests can substitute a fake without a
// live Postgres connection.
type repository interface {
	ReadOne(ctx context.Context, tenantID, service, endpoint string) (durable.Threshold, error)
	Upsert(ctx context.Context, th durable.Threshold) error
}

// Store is the Threshold Store, backed by the Durable Store.
type Store struct {
	repo repository
}

// New wraps a durable ThresholdRepo as a Threshold Store.
func New(repo *durable.ThresholdRepo) *Store {
	return &Store{repo: repo}
}

// ReadOne returns the threshold Record for an endpoint, or the factory
// default (source="default") if none has been tuned yet.
func (s *Store) ReadOne(ctx context.Context, tenantID, service, endpoint string) (Record, error) {
	th, err := s.repo.ReadOne(ctx, tenantID, service, endpoint)
	if err != nil {
		return Record{}, fmt.Errorf("threshold: read: %w", err)
	}
	return fromRow(th), nil
}

// Upsert validates values (per-field ranges plus shed>queue) and persists
// them with the given reasoning and confidence, source="tuned". Callers
// writing factory defaults should not go through this path; use ReadOne's
// fallback instead.
func (s *Store) Upsert(ctx context.Context, tenantID, service, endpoint string, rec Record) error {
	rec.Source = "tuned"
	if err := validate.Struct(rec); err != nil {
		return cnserrors.New(cnserrors.ErrCodeInvalidRequest, fmt.Sprintf("threshold: invalid record: %v", err))
	}
	if rec.ShedRPM <= rec.QueueRPM {
		return cnserrors.New(cnserrors.ErrCodeConflict, "threshold: shed_rpm must exceed queue_rpm")
	}

	row := durable.Threshold{
		TenantID:     tenantID,
		ServiceName:  service,
		Endpoint:     endpoint,
		CacheMS:      rec.CacheLatencyMS,
		BreakerRate:  rec.BreakerErrorRate,
		QueueRPM:     rec.QueueRPM,
		ShedRPM:      rec.ShedRPM,
		PerClientRPM: rec.PerClientRPM,
		Confidence:   &rec.Confidence,
		Reasoning:    &rec.Reasoning,
		Source:       rec.Source,
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return fmt.Errorf("threshold: upsert: %w", err)
	}
	return nil
}

func fromRow(th durable.Threshold) Record {
	rec := Record{
		CacheLatencyMS:   th.CacheMS,
		BreakerErrorRate: th.BreakerRate,
		QueueRPM:         th.QueueRPM,
		ShedRPM:          th.ShedRPM,
		PerClientRPM:     th.PerClientRPM,
		Source:           th.Source,
	}
	if th.Confidence != nil {
		rec.Confidence = *th.Confidence
	}
	if th.Reasoning != nil {
		rec.Reasoning = *th.Reasoning
	}
	return rec
}
