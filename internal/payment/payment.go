package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrGateway marks failures reported by (or on the way to) the payment
// provider. Callers match it with errors.Is.
var ErrGateway = errors.New("payment gateway error")

type Intent struct {
	ID           string
	ClientSecret string
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error)
}

// DisabledGateway is used when no provider key is configured.
type DisabledGateway struct{}

func (DisabledGateway) CreateIntent(_ context.Context, _ decimal.Decimal, _ string) (*Intent, error) {
	return nil, fmt.Errorf("%w: no provider configured", ErrGateway)
}

// StripeGateway creates payment intents through the Stripe REST API.
type StripeGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewStripeGateway(apiKey string) *StripeGateway {
	return &StripeGateway{
		apiKey:  apiKey,
		baseURL: "https://api.stripe.com",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (*Intent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	// Stripe expects the amount in the currency's minor unit.
	minorUnits := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", minorUnits))
	form.Set("currency", currency)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrGateway, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("%w: provider returned %d", ErrGateway, resp.StatusCode)
	}

	var payload struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGateway, err)
	}
	return &Intent{ID: payload.ID, ClientSecret: payload.ClientSecret}, nil
}
