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

// Package advisor is the Advisor: a structured-output wrapper around an
// LLM that recommends per-endpoint Decision Engine thresholds. It never
// applies its own recommendations — pkg/tuner owns that decision — it
// only produces a schema-validated Recommendation or an error, per
// spec.md §6's "reject as if the call had failed" contract.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-playground/validator/v10"

	cnserrors "github.com/mchmarny/trafficctl/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const model = anthropic.ModelClaudeSonnet4_5

// maxTokens bounds the structured-output response; a Recommendation is a
// handful of fields plus a one-paragraph reasoning string.
const maxTokens = 1024

// Confidence is the Advisor's self-reported confidence in a
// Recommendation, set by request volume per spec.md §6.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Recommendation is the Advisor's validated output. Field tags enforce
// the exact ranges spec.md §6 requires; ShedRPM's gt=QueueRPM invariant
// is checked separately in Recommend, the same split pkg/threshold uses
// for its own cross-field check.
type Recommendation struct {
	CacheLatencyMS   int        `json:"cache_latency_ms" validate:"gte=10,lte=5000"`
	BreakerErrorRate float64    `json:"circuit_breaker_error_rate" validate:"gte=0.01,lte=1.0"`
	QueueRPM         int        `json:"queue_deferral_rpm" validate:"gte=10,lte=1000"`
	ShedRPM          int        `json:"load_shedding_rpm" validate:"gte=20,lte=5000"`
	PerClientRPM     int        `json:"rate_limit_customer_rpm" validate:"gte=5,lte=500"`
	Reasoning        string     `json:"reasoning" validate:"min=50,max=1000"`
	Confidence       Confidence `json:"confidence" validate:"oneof=low medium high"`
}

// recommendationSchema is the JSON schema the Advisor is forced to
// answer against, so the response is structured output rather than text
// requiring a parser of its own.
var recommendationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"cache_latency_ms":           map[string]any{"type": "integer", "minimum": 10, "maximum": 5000},
		"circuit_breaker_error_rate": map[string]any{"type": "number", "minimum": 0.01, "maximum": 1.0},
		"queue_deferral_rpm":         map[string]any{"type": "integer", "minimum": 10, "maximum": 1000},
		"load_shedding_rpm":          map[string]any{"type": "integer", "minimum": 20, "maximum": 5000},
		"rate_limit_customer_rpm":    map[string]any{"type": "integer", "minimum": 5, "maximum": 500},
		"reasoning":                  map[string]any{"type": "string", "minLength": 50, "maxLength": 1000},
		"confidence":                 map[string]any{"type": "string", "enum": []string{"low", "medium", "high"}},
	},
	"required": []string{
		"cache_latency_ms", "circuit_breaker_error_rate", "queue_deferral_rpm",
		"load_shedding_rpm", "rate_limit_customer_rpm", "reasoning", "confidence",
	},
}

// Metrics is the window snapshot handed to the Advisor for one endpoint.
type Metrics struct {
	Count             int
	RequestsPerMinute float64
	AvgLatencyMS      float64
	P50, P95, P99     float64
	ErrorRate         float64
}

// Current is the endpoint's existing threshold record, included in the
// prompt so the Advisor tunes relative to what's already configured
// rather than guessing from nothing.
type Current struct {
	CacheLatencyMS   int
	BreakerErrorRate float64
	QueueRPM         int
	ShedRPM          int
	PerClientRPM     int
}

// Client wraps the Anthropic SDK with the prompt and schema this control
// plane's threshold-tuning task needs.
type Client struct {
	api anthropic.Client
}

// New builds a Client authenticating with apiKey.
func New(apiKey string) *Client {
	return &Client{api: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Recommend asks the Advisor to analyze service/endpoint's metrics
// against its current thresholds and propose new ones. priorReasoning is
// the previous tuning cycle's Reasoning text, embedded in the prompt so
// the Advisor continues a line of reasoning instead of tuning blind each
// cycle (SPEC_FULL.md §4.7); pass "" on the first tuning pass for an
// endpoint.
//
// A Recommendation that fails schema validation, or violates the
// ShedRPM>QueueRPM invariant, is rejected exactly as if the call to the
// Advisor itself had failed: Recommend returns a non-nil error and no
// partial Recommendation.
func (c *Client) Recommend(ctx context.Context, service, endpoint string, m Metrics, cur Current, priorReasoning string) (Recommendation, error) {
	prompt := buildPrompt(service, endpoint, m, cur, priorReasoning)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: "You are a senior SRE specializing in API performance optimization and traffic management. Respond only with a JSON object matching the provided schema."},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        "threshold_recommendation",
					Description: anthropic.String("Record the recommended thresholds for this endpoint."),
					InputSchema: anthropic.ToolInputSchemaParam{
						Type:       "object",
						Properties: recommendationSchema["properties"],
					},
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: "threshold_recommendation"},
		},
	})
	if err != nil {
		return Recommendation{}, cnserrors.Wrap(cnserrors.ErrCodeUnavailable, "advisor: request failed", err)
	}

	rec, err := extractRecommendation(msg)
	if err != nil {
		return Recommendation{}, cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "advisor: malformed response", err)
	}

	if err := validateRecommendation(rec); err != nil {
		return Recommendation{}, err
	}

	return rec, nil
}

// validateRecommendation enforces the struct-tag ranges plus the
// ShedRPM>QueueRPM cross-field invariant that a tag can't express
// cleanly, the same split pkg/threshold uses for its own Record.
func validateRecommendation(rec Recommendation) error {
	if err := validate.Struct(rec); err != nil {
		return cnserrors.Wrap(cnserrors.ErrCodeInvalidRequest, "advisor: recommendation failed schema validation", err)
	}
	if rec.ShedRPM <= rec.QueueRPM {
		return cnserrors.New(cnserrors.ErrCodeInvalidRequest,
			fmt.Sprintf("advisor: load_shedding_rpm %d must exceed queue_deferral_rpm %d", rec.ShedRPM, rec.QueueRPM))
	}
	return nil
}

// extractRecommendation pulls the tool_use input block out of an
// Anthropic response and decodes it into a Recommendation.
func extractRecommendation(msg *anthropic.Message) (Recommendation, error) {
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		var rec Recommendation
		if err := json.Unmarshal(block.Input, &rec); err != nil {
			return Recommendation{}, fmt.Errorf("decode tool_use input: %w", err)
		}
		return rec, nil
	}
	return Recommendation{}, fmt.Errorf("no tool_use block in response")
}
