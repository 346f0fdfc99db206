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

package queue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/trafficctl/pkg/signal"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)

	q, err := New(t.Context(), WithAddr(mr.Addr()), WithConsumerName("test-consumer"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func testSignal() *signal.Signal {
	return &signal.Signal{
		TenantID:    "tenant-a",
		ServiceName: "checkout",
		Endpoint:    "/v1/cart",
		Status:      signal.StatusSuccess,
		LatencyMS:   80,
		Priority:    signal.PriorityMedium,
		Timestamp:   time.Now(),
	}
}

func TestPublishAndFetch(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Publish(t.Context(), testSignal()))

	msgs, err := q.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "checkout", msgs[0].Signal.ServiceName)
	require.Equal(t, int64(0), msgs[0].Deliveries)
}

func TestAckRemovesPending(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Publish(t.Context(), testSignal()))

	msgs, err := q.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Ack(t.Context(), msgs[0].ID))

	count, err := q.PendingCount(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestNackRequeuesUnderMaxDeliveries(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Publish(t.Context(), testSignal()))

	msgs, err := q.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Nack(t.Context(), msgs[0]))

	requeued, err := q.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	require.Equal(t, int64(1), requeued[0].Deliveries)
}

func TestNackDeadLettersAfterMaxDeliveries(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Publish(t.Context(), testSignal()))

	msg := Message{ID: "", Signal: testSignal(), Deliveries: 0}
	msgs, err := q.Fetch(t.Context())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	msg = msgs[0]
	msg.Deliveries = 4 // one below QueueMaxDeliveries(5); next Nack dead-letters

	require.NoError(t, q.Nack(t.Context(), msg))

	n, err := q.DeadLetterLen(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	count, err := q.PendingCount(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
