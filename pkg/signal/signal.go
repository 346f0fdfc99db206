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

// Package signal defines the immutable telemetry fact reported by agents
// and consumed by the Aggregator.
package signal

import (
	"time"

	"github.com/google/uuid"

	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
)

// Status is the outcome of the request the Signal describes.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Priority is the request priority lattice, highest first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// priorityRank orders Priority values for lattice comparisons; higher is
// more important.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Less reports whether p is strictly lower priority than other.
func (p Priority) Less(other Priority) bool {
	return priorityRank[p] < priorityRank[other]
}

// Valid reports whether p is one of the declared priority levels.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Signal is the immutable telemetry fact reported by an agent for one
// handled request. It is created by the Consumer and never mutated.
type Signal struct {
	// ID uniquely identifies this signal for durable-store deduplication;
	// it carries no domain semantics.
	ID uuid.UUID `json:"id" db:"id"`

	// IngestSeq is a monotonic per-process counter assigned at ingest time
	// and carried through the queue; it is the reservoir's ordering key, so
	// the oldest-ingested sample is evicted first.
	IngestSeq uint64 `json:"ingest_seq" db:"ingest_seq"`

	TenantID           string    `json:"tenant_id" db:"tenant_id"`
	ServiceName        string    `json:"service_name" db:"service_name"`
	Endpoint           string    `json:"endpoint" db:"endpoint"`
	Status             Status    `json:"status" db:"status"`
	LatencyMS          int       `json:"latency_ms" db:"latency_ms"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
	Priority           Priority  `json:"priority" db:"priority"`
	CustomerIdentifier string    `json:"customer_identifier,omitempty" db:"customer_identifier"`
}

// IngestRequest is the wire shape of POST /api/signals, before defaults
// (priority) are applied and before an ID/timestamp are assigned.
type IngestRequest struct {
	ServiceName        string   `json:"service_name"`
	Endpoint           string   `json:"endpoint"`
	LatencyMS          int      `json:"latency_ms"`
	Status             Status   `json:"status"`
	TenantID           string   `json:"tenant_id"`
	Priority           Priority `json:"priority,omitempty"`
	CustomerIdentifier string   `json:"customer_identifier,omitempty"`
}

// Validate checks the structural invariants of an IngestRequest. It does
// not assign defaults; callers use ToSignal for that.
func (r *IngestRequest) Validate() error {
	switch {
	case r.ServiceName == "":
		return errInvalid("service_name is required")
	case r.Endpoint == "":
		return errInvalid("endpoint is required")
	case r.TenantID == "":
		return errInvalid("tenant_id is required")
	case r.LatencyMS < 0:
		return errInvalid("latency_ms must be >= 0")
	case r.Status != StatusSuccess && r.Status != StatusError:
		return errInvalid("status must be success or error")
	case r.Priority != "" && !r.Priority.Valid():
		return errInvalid("priority must be one of critical, high, medium, low")
	}
	return nil
}

// ToSignal converts a validated IngestRequest into a Signal, assigning a
// fresh ID, the ingest sequence number, the current timestamp, and the
// default medium priority when none was supplied.
func (r *IngestRequest) ToSignal(seq uint64, now time.Time) *Signal {
	priority := r.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return &Signal{
		ID:                 uuid.New(),
		IngestSeq:          seq,
		TenantID:           r.TenantID,
		ServiceName:        r.ServiceName,
		Endpoint:           r.Endpoint,
		Status:             r.Status,
		LatencyMS:          r.LatencyMS,
		Timestamp:          now,
		Priority:           priority,
		CustomerIdentifier: r.CustomerIdentifier,
	}
}

func errInvalid(msg string) error {
	return cnserrors.New(cnserrors.ErrCodeInvalidRequest, msg)
}
