package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/appointment"
)

// StripeProvider talks to a Stripe-compatible payment intents API.
type StripeProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewStripeProvider(baseURL, apiKey string, logger zerolog.Logger) *StripeProvider {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

var _ appointment.PaymentProvider = (*StripeProvider)(nil)

// CreateIntent creates a payment intent and returns its id and client
// secret. The client secret is opaque to the engine.
func (p *StripeProvider) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (*appointment.PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var parsed struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := p.post(ctx, "/v1/payment_intents", form, &parsed); err != nil {
		return nil, err
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("payments: provider returned no intent id")
	}

	p.logger.Info().Str("intent_id", parsed.ID).Int64("amount_cents", amountCents).Msg("payment intent created")

	return &appointment.PaymentIntent{ID: parsed.ID, ClientSecret: parsed.ClientSecret}, nil
}

// CreateRefund refunds the charge behind an intent and returns the
// provider's stated refund status.
func (p *StripeProvider) CreateRefund(ctx context.Context, intentID string) (string, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.post(ctx, "/v1/refunds", form, &parsed); err != nil {
		return "", err
	}

	p.logger.Info().
		Str("intent_id", intentID).
		Str("refund_id", parsed.ID).
		Str("status", parsed.Status).
		Msg("refund created")

	return parsed.Status, nil
}

func (p *StripeProvider) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: provider http: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		p.logger.Error().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", string(body)).
			Msg("provider call failed")
		return fmt.Errorf("payments: provider api status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payments: decode provider response: %w", err)
	}
	return nil
}
