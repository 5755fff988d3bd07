package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bundle-pricing/core/cache"
	"bundle-pricing/core/types"
	"bundle-pricing/internal/errors"
)

const maxBodyBytes = 1 << 20

// handleCalculate handles POST /calculate
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	var facts types.RequestFacts
	if !s.decode(w, r, &facts) {
		return
	}

	bd, err := s.newLoader().Load(r.Context(), facts)
	if err != nil {
		s.fail(w, requestID, err)
		return
	}

	s.writeJSON(w, CalculateResponse{
		RequestID:  requestID,
		Breakdown:  bd,
		DurationMs: time.Since(start).Milliseconds(),
	}, http.StatusOK)
}

// handleBatch handles POST /calculate/batch. Failed items are reported
// in place; the response is 200 unless the body itself is unusable.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := generateRequestID()

	var req BatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Requests) == 0 {
		s.writeError(w, ErrorBody{Code: "VALIDATION_ERROR", Message: "requests must not be empty"}, http.StatusBadRequest)
		return
	}

	results := s.newLoader().LoadMany(r.Context(), req.Requests)
	resp := BatchResponse{
		RequestID: requestID,
		Results:   make([]BatchItem, len(results)),
	}
	for i, res := range results {
		resp.Results[i] = BatchItem{Key: res.Key, Breakdown: res.Breakdown}
		if res.Err != nil {
			_, body := classify(res.Err)
			resp.Results[i].Error = &body
			resp.Failed++
		}
	}
	resp.DurationMs = time.Since(start).Milliseconds()

	if resp.Failed > 0 {
		s.logger.Info("batch completed with failures",
			zap.String("request_id", requestID),
			zap.Int("size", len(results)),
			zap.Int("failed", resp.Failed),
		)
	}
	s.writeJSON(w, resp, http.StatusOK)
}

// handleInvalidate handles POST /cache/invalidate/{scope}
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.invalidator == nil {
		s.writeError(w, ErrorBody{Code: "CACHE_DISABLED", Message: "no cache is configured"}, http.StatusServiceUnavailable)
		return
	}

	var req InvalidateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	scope := r.PathValue("scope")
	ctx := r.Context()
	var scoped func(context.Context, string) (int, error)
	switch scope {
	case "all":
		n, err := s.invalidator.InvalidateAll(ctx)
		s.writeAffected(w, n, err)
		return
	case "rule-change":
		n, err := s.invalidator.InvalidateByRuleChange(ctx, req.Category, req.Entities)
		s.writeAffected(w, n, err)
		return
	case "bundle":
		scoped = s.invalidator.InvalidateBundle
	case "country":
		scoped = s.invalidator.InvalidateCountry
	case "payment-method":
		scoped = s.invalidator.InvalidatePaymentMethod
	case "user":
		scoped = s.invalidator.InvalidateUser
	default:
		s.writeError(w, ErrorBody{Code: "NOT_FOUND", Message: fmt.Sprintf("unknown invalidation scope %q", scope)}, http.StatusNotFound)
		return
	}

	if req.Value == "" {
		s.writeError(w, ErrorBody{Code: "VALIDATION_ERROR", Message: "value is required for scope " + scope}, http.StatusBadRequest)
		return
	}
	n, err := scoped(ctx, req.Value)
	s.writeAffected(w, n, err)
}

func (s *Server) writeAffected(w http.ResponseWriter, n int, err error) {
	if err != nil {
		status, body := classify(err)
		s.writeError(w, body, status)
		return
	}
	s.writeJSON(w, InvalidateResponse{Affected: n}, http.StatusOK)
}

// handleSweep handles POST /cache/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sweeper == nil {
		s.writeError(w, ErrorBody{Code: "CACHE_DISABLED", Message: "no cache is configured"}, http.StatusServiceUnavailable)
		return
	}
	n, err := s.opts.Sweeper.SweepOnce(r.Context())
	if err != nil {
		status, body := classify(err)
		s.writeError(w, body, status)
		return
	}
	s.writeJSON(w, SweepResponse{Removed: n}, http.StatusOK)
}

// handleCacheMetrics handles GET /cache/metrics
func (s *Server) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	resp := CacheMetricsResponse{Time: now.UTC()}
	if s.opts.Monitor != nil {
		resp.Monitor = s.opts.Monitor.Snapshot()
	}
	if mem, ok := s.opts.Cache.Store().(*cache.MemoryStore); ok {
		stats := mem.Stats(now)
		resp.Store = &stats
	}
	s.writeJSON(w, resp, http.StatusOK)
}

// decode reads a JSON body into v, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, ErrorBody{Code: "INVALID_JSON", Message: err.Error()}, http.StatusBadRequest)
		return false
	}
	return true
}

// fail logs err and writes its classified response
func (s *Server) fail(w http.ResponseWriter, requestID string, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("calculation failed", zap.String("request_id", requestID), zap.Error(err))
	}
	s.writeError(w, body, status)
}

// classify maps an error to an HTTP status and a client-safe body.
// Only validation and lookup failures carry their message to the caller.
func classify(err error) (int, ErrorBody) {
	switch {
	case errors.IsType(err, errors.TypeValidation):
		body := ErrorBody{Code: "VALIDATION_ERROR", Message: err.Error()}
		if inner := innermost(err, errors.TypeValidation); inner != nil {
			body.Message = inner.Message
			body.Details = inner.Context
		}
		return http.StatusBadRequest, body
	case errors.IsType(err, errors.TypeNotFound):
		body := ErrorBody{Code: "NOT_FOUND", Message: err.Error()}
		if inner := innermost(err, errors.TypeNotFound); inner != nil {
			body.Message = inner.Message
		}
		return http.StatusNotFound, body
	case errors.IsType(err, errors.TypeCacheUnavailable):
		return http.StatusServiceUnavailable, ErrorBody{Code: "CACHE_UNAVAILABLE", Message: "cache backend unavailable"}
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{Code: "TIMEOUT", Message: "request cancelled before the calculation finished"}
	}
	return http.StatusInternalServerError, ErrorBody{Code: "CALCULATION_FAILED", Message: "pricing calculation failed"}
}

// innermost returns the deepest domain error of type t in err's chain
func innermost(err error, t errors.Type) *errors.Error {
	var found *errors.Error
	for err != nil {
		var e *errors.Error
		if !stderrors.As(err, &e) {
			break
		}
		if e.Type == t {
			found = e
		}
		err = e.Cause
	}
	return found
}
