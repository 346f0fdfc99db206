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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mchmarny/trafficctl/pkg/defaults"
	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
	"github.com/mchmarny/trafficctl/pkg/server"
	"github.com/mchmarny/trafficctl/pkg/serializer"
	"github.com/mchmarny/trafficctl/pkg/signal"
)

// handleIngest implements POST /api/signals (spec.md §4.5): authenticate,
// validate, publish one message to the queue, respond 201. A queue
// failure is reported to the agent as 503 so it retries.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		server.WriteError(w, r, http.StatusMethodNotAllowed, cnserrors.ErrCodeMethodNotAllowed,
			"only POST is supported", false, nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaults.IngestHandlerTimeout)
	defer cancel()

	if _, err := a.auth.Authenticate(ctx, r.Header.Get("Authorization")); err != nil {
		server.WriteErrorFromErr(w, r, err, "authentication failed", nil)
		return
	}

	var req signal.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.WriteError(w, r, http.StatusBadRequest, cnserrors.ErrCodeInvalidRequest,
			"malformed request body", false, nil)
		return
	}
	if err := req.Validate(); err != nil {
		server.WriteErrorFromErr(w, r, err, "invalid signal", nil)
		return
	}

	sig := req.ToSignal(a.ingestSeq.Add(1), time.Now())
	if err := a.queue.Publish(ctx, sig); err != nil {
		server.WriteErrorFromErr(w, r, err, "queue unavailable", nil)
		return
	}

	serializer.RespondJSON(w, http.StatusCreated, map[string]any{
		"status": "accepted",
		"id":     sig.ID,
	})
}
