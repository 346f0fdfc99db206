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

package signal

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityLess(t *testing.T) {
	assert.True(t, PriorityLow.Less(PriorityMedium))
	assert.True(t, PriorityMedium.Less(PriorityHigh))
	assert.True(t, PriorityHigh.Less(PriorityCritical))
	assert.False(t, PriorityCritical.Less(PriorityLow))
}

func TestPriorityValid(t *testing.T) {
	assert.True(t, PriorityLow.Valid())
	assert.True(t, PriorityCritical.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.False(t, Priority("").Valid())
}

func TestIngestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     IngestRequest
		wantErr bool
	}{
		{
			name: "valid",
			req: IngestRequest{
				ServiceName: "checkout", Endpoint: "/pay", TenantID: "t1",
				LatencyMS: 100, Status: StatusSuccess,
			},
		},
		{
			name:    "missing service name",
			req:     IngestRequest{Endpoint: "/pay", TenantID: "t1", Status: StatusSuccess},
			wantErr: true,
		},
		{
			name:    "negative latency",
			req:     IngestRequest{ServiceName: "a", Endpoint: "/b", TenantID: "t1", LatencyMS: -1, Status: StatusSuccess},
			wantErr: true,
		},
		{
			name:    "bad status",
			req:     IngestRequest{ServiceName: "a", Endpoint: "/b", TenantID: "t1", Status: "timeout"},
			wantErr: true,
		},
		{
			name:    "bad priority",
			req:     IngestRequest{ServiceName: "a", Endpoint: "/b", TenantID: "t1", Status: StatusSuccess, Priority: "urgent"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestToSignalDefaultsPriority(t *testing.T) {
	req := IngestRequest{ServiceName: "a", Endpoint: "/b", TenantID: "t1", Status: StatusSuccess}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s := req.ToSignal(42, now)

	assert.Equal(t, PriorityMedium, s.Priority)
	assert.Equal(t, uint64(42), s.IngestSeq)
	assert.Equal(t, now, s.Timestamp)
	assert.NotEqual(t, uuid.Nil, s.ID)
}

func TestToSignalPreservesExplicitPriority(t *testing.T) {
	req := IngestRequest{
		ServiceName: "a", Endpoint: "/b", TenantID: "t1",
		Status: StatusSuccess, Priority: PriorityCritical,
	}
	s := req.ToSignal(1, time.Now())
	assert.Equal(t, PriorityCritical, s.Priority)
}
