// Package webhook announces pricing rule changes between processes.
// A Sender posts signed events; Handler verifies and applies them on the
// receiving server.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bundle-pricing/core/types"
	"bundle-pricing/internal/logging"
)

// SignatureHeader carries "sha256=<hex hmac of the body>"
const SignatureHeader = "X-Pricing-Signature"

const maxEventBytes = 64 << 10

// EventType names what changed
type EventType string

const (
	// EventStrategyUpdated reloads strategies and invalidates every result
	EventStrategyUpdated EventType = "strategy.updated"

	// EventRuleChanged invalidates results affected by one rule category
	EventRuleChanged EventType = "rule.changed"
)

// Event is the webhook payload
type Event struct {
	Type       EventType      `json:"type"`
	StrategyID string         `json:"strategyId,omitempty"`
	Category   types.Category `json:"category,omitempty"`
	Entities   []string       `json:"entities,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Config configures webhook delivery
type Config struct {
	// Endpoint URL
	Endpoint string `json:"endpoint"`

	// Secret for signing
	Secret string `json:"secret"`

	// Headers to include
	Headers map[string]string `json:"headers"`

	// Timeout for requests
	Timeout time.Duration `json:"timeout"`

	// RetryCount for failed requests
	RetryCount int `json:"retry_count"`

	// RetryDelay between retries
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig(endpoint, secret string) *Config {
	return &Config{
		Endpoint:   endpoint,
		Secret:     secret,
		Timeout:    10 * time.Second,
		RetryCount: 3,
		RetryDelay: 1 * time.Second,
		Headers:    make(map[string]string),
	}
}

// Sender posts events to one endpoint
type Sender struct {
	config     *Config
	httpClient *http.Client
}

// NewSender creates a sender
func NewSender(config *Config) *Sender {
	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Send delivers ev, retrying failed attempts
func (s *Sender) Send(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}
		}

		if err := s.sendOnce(ctx, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", s.config.RetryCount+1, lastErr)
}

func (s *Sender) sendOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}
	if s.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.config.Secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Sign returns the signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies an incoming webhook signature
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(payload, secret)))
}

// Applier acts on a verified event and reports how many cached results
// it invalidated
type Applier func(ctx context.Context, ev Event) (int, error)

type result struct {
	Affected int    `json:"affected"`
	Error    string `json:"error,omitempty"`
}

// Handler verifies, decodes and applies incoming events
func Handler(secret string, apply Applier, logger *zap.Logger) http.Handler {
	logger = logging.Component(logger, "webhook")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes))
		if err != nil {
			reply(w, http.StatusBadRequest, result{Error: "unreadable body"})
			return
		}
		if !VerifySignature(body, r.Header.Get(SignatureHeader), secret) {
			logger.Warn("rejected unsigned webhook", zap.String("remote", r.RemoteAddr))
			reply(w, http.StatusUnauthorized, result{Error: "invalid signature"})
			return
		}

		var ev Event
		if err := json.Unmarshal(body, &ev); err != nil {
			reply(w, http.StatusBadRequest, result{Error: "invalid event: " + err.Error()})
			return
		}
		switch ev.Type {
		case EventStrategyUpdated, EventRuleChanged:
		default:
			reply(w, http.StatusBadRequest, result{Error: fmt.Sprintf("unknown event type %q", ev.Type)})
			return
		}

		n, err := apply(r.Context(), ev)
		if err != nil {
			logger.Error("webhook apply failed", zap.String("type", string(ev.Type)), zap.Error(err))
			reply(w, http.StatusInternalServerError, result{Affected: n, Error: "failed to apply event"})
			return
		}
		logger.Info("webhook applied",
			zap.String("type", string(ev.Type)),
			logging.StrategyID(ev.StrategyID),
			zap.Int("affected", n),
		)
		reply(w, http.StatusOK, result{Affected: n})
	})
}

func reply(w http.ResponseWriter, status int, body result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
