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
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mchmarny/trafficctl/pkg/signal"
)

func encode(s *signal.Signal) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal signal: %w", err)
	}
	return string(body), nil
}

func decodeEntry(entry redis.XMessage) (Message, error) {
	raw, ok := entry.Values[payloadField]
	if !ok {
		return Message{}, fmt.Errorf("queue: entry %s missing %q field", entry.ID, payloadField)
	}
	body, ok := raw.(string)
	if !ok {
		return Message{}, fmt.Errorf("queue: entry %s %q field is not a string", entry.ID, payloadField)
	}

	var s signal.Signal
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return Message{}, fmt.Errorf("queue: unmarshal entry %s: %w", entry.ID, err)
	}

	var deliveries int64
	if rawDeliveries, ok := entry.Values[deliveryField]; ok {
		if str, ok := rawDeliveries.(string); ok {
			deliveries, _ = strconv.ParseInt(str, 10, 64)
		}
	}

	return Message{ID: entry.ID, Signal: &s, Deliveries: deliveries}, nil
}
