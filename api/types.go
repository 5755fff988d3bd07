// Package api - HTTP and websocket surface of the pricing service
// The API only decodes requests, hands them to the engine through a
// request-scoped loader, and serializes the results.
package api

import (
	"time"

	"bundle-pricing/core/cache"
	"bundle-pricing/core/monitor"
	"bundle-pricing/core/types"
)

// CalculateResponse is the output of POST /calculate
type CalculateResponse struct {
	RequestID  string                  `json:"requestId"`
	Breakdown  *types.PricingBreakdown `json:"breakdown"`
	DurationMs int64                   `json:"durationMs"`
}

// BatchRequest is the input to POST /calculate/batch
type BatchRequest struct {
	Requests []types.RequestFacts `json:"requests"`
}

// BatchItem is one positional result of a batch
type BatchItem struct {
	Key       string                  `json:"key"`
	Breakdown *types.PricingBreakdown `json:"breakdown,omitempty"`
	Error     *ErrorBody              `json:"error,omitempty"`
}

// BatchResponse is the output of POST /calculate/batch
type BatchResponse struct {
	RequestID  string      `json:"requestId"`
	Results    []BatchItem `json:"results"`
	Failed     int         `json:"failed"`
	DurationMs int64       `json:"durationMs"`
}

// StreamRequest is the first message a client sends on /calculate/stream
type StreamRequest struct {
	// CorrelationID lets other clients follow the run via /subscribe.
	// Generated when empty.
	CorrelationID string `json:"correlationId,omitempty"`

	// StrategyID overrides the default strategy
	StrategyID string `json:"strategyId,omitempty"`

	Facts types.RequestFacts `json:"facts"`
}

// InvalidateRequest is the body of POST /cache/invalidate/{scope}
type InvalidateRequest struct {
	// Value is the bundle id, country, payment method or user id
	Value string `json:"value,omitempty"`

	// Category and Entities describe a rule change
	Category types.Category `json:"category,omitempty"`
	Entities []string       `json:"entities,omitempty"`
}

// InvalidateResponse reports how many entries were removed
type InvalidateResponse struct {
	Affected int `json:"affected"`
}

// SweepResponse reports how many entries a sweep removed
type SweepResponse struct {
	Removed int `json:"removed"`
}

// CacheMetricsResponse is the output of GET /cache/metrics
type CacheMetricsResponse struct {
	Monitor monitor.Snapshot `json:"monitor"`
	Store   *cache.Stats     `json:"store,omitempty"`
	Time    time.Time        `json:"time"`
}

// ErrorBody is the error part of every failed response
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
