package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront/internal/model"
	"storefront/internal/transport"
)

// Receipt is the partner's acknowledgement of a submitted order.
type Receipt struct {
	PartnerOrderID string
	TrackingNumber string
}

// Partner hands orders to the fulfillment partner.
type Partner interface {
	SubmitOrder(ctx context.Context, o *model.Order) (*Receipt, error)
}

// HTTPPartner submits orders to the partner's REST API.
type HTTPPartner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// PartnerConfig configures HTTPPartner.
type PartnerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// NewHTTPPartner creates a partner client.
func NewHTTPPartner(cfg PartnerConfig) (*HTTPPartner, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("partner base URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = transport.NewClient(cfg.Timeout)
	}
	return &HTTPPartner{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
	}, nil
}

type partnerLine struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price_cents"`
}

type partnerOrder struct {
	Reference string                `json:"reference"`
	Email     string                `json:"email"`
	Shipping  model.ShippingAddress `json:"shipping"`
	Lines     []partnerLine         `json:"lines"`
	Total     int64                 `json:"total_cents"`
}

type partnerResponse struct {
	ID             string `json:"id"`
	TrackingNumber string `json:"tracking_number"`
}

// SubmitOrder posts the order once. The order id is sent as the reference
// so the partner can deduplicate a repeated submission.
func (p *HTTPPartner) SubmitOrder(ctx context.Context, o *model.Order) (*Receipt, error) {
	payload := partnerOrder{
		Reference: o.ID,
		Email:     o.Customer.Email,
		Shipping:  o.Shipping,
		Total:     o.Totals.Total,
	}
	for _, item := range o.Items {
		payload.Lines = append(payload.Lines, partnerLine{
			SKU:       item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.BasePrice,
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", o.ID)
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("fulfillment partner", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, model.NewUpstreamError("fulfillment partner", fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, model.NewUpstreamError("fulfillment partner",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var out partnerResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, model.NewUpstreamError("fulfillment partner", fmt.Errorf("parsing response: %w", err))
	}
	if out.ID == "" {
		return nil, model.NewUpstreamError("fulfillment partner", fmt.Errorf("response missing order id"))
	}
	return &Receipt{PartnerOrderID: out.ID, TrackingNumber: out.TrackingNumber}, nil
}

// ManualPartner accepts every order for fulfillment by hand. Used when no
// partner API is configured.
type ManualPartner struct{}

func (ManualPartner) SubmitOrder(_ context.Context, o *model.Order) (*Receipt, error) {
	return &Receipt{PartnerOrderID: "manual-" + o.ID}, nil
}

var (
	_ Partner = (*HTTPPartner)(nil)
	_ Partner = ManualPartner{}
)
