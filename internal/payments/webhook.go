package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/metrics"
	redisclient "github.com/carebook/booking-engine/internal/redis"
)

// WebhookEvent is the provider's event envelope.
type WebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object webhookObject `json:"object"`
	} `json:"data"`
}

// webhookObject is the payload object: a payment intent for intent
// events, a refund for refund events.
type webhookObject struct {
	ID               string `json:"id"`
	PaymentIntent    string `json:"payment_intent"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// IntentID returns the payment-intent id the event is keyed by.
func (e WebhookEvent) IntentID() string {
	if e.Type == EventRefundUpdated {
		return e.Data.Object.PaymentIntent
	}
	return e.Data.Object.ID
}

// RefundStatus returns the refund outcome for refund events.
func (e WebhookEvent) RefundStatus() string {
	if e.Type == EventRefundUpdated {
		return e.Data.Object.Status
	}
	return ""
}

// FailureReason returns the provider's stated failure reason, if any.
func (e WebhookEvent) FailureReason() string {
	if e.Data.Object.LastPaymentError != nil {
		return e.Data.Object.LastPaymentError.Message
	}
	return ""
}

// WebhookHandler terminates provider webhooks: it authenticates the
// delivery, parses the envelope, and hands supported events to the
// reconciler. Unsupported event types are acknowledged untouched.
type WebhookHandler struct {
	secret     string
	reconciler *Reconciler
	metrics    *metrics.EngineMetrics
	logger     zerolog.Logger
}

func NewWebhookHandler(secret string, reconciler *Reconciler, m *metrics.EngineMetrics, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Webhook-Signature")
	if !verifySignature(h.secret, payload, sigHeader) {
		h.metrics.ObserveWebhook("unknown", "bad_signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt WebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error().Err(err).Msg("failed to decode webhook event")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case EventIntentSucceeded, EventIntentFailed, EventRefundUpdated:
	default:
		// Unhandled event types are acknowledged so the provider stops
		// redelivering them.
		h.metrics.ObserveWebhook(evt.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.reconciler.Process(r.Context(), evt)
	h.metrics.ObserveWebhookLatency(evt.Type, time.Since(start).Seconds())

	switch {
	case err == nil:
		h.metrics.ObserveWebhook(evt.Type, "ok")
		if evt.Type == EventRefundUpdated {
			h.metrics.ObserveRefund(evt.RefundStatus())
		}
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		// Another delivery for the same intent is in flight; let the
		// provider redeliver this one.
		h.metrics.ObserveWebhook(evt.Type, "contended")
		http.Error(w, "busy, retry later", http.StatusServiceUnavailable)
	default:
		h.logger.Error().Err(err).Str("event_id", evt.ID).Str("event_type", evt.Type).Msg("webhook reconciliation failed")
		h.metrics.ObserveWebhook(evt.Type, "error")
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

// verifySignature verifies an HMAC-SHA256 webhook signature sent as
// "t=<timestamp>,v1=<signature>" with a 5 minute timestamp tolerance.
func verifySignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	parts := strings.Split(header, ",")
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
