// Package paypal provides a client for the PayPal Orders v2 REST API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/artpar/ringside/internal/core/domain"
)

// Order statuses and webhook event types used by checkout.
const (
	StatusCompleted = "COMPLETED"
	StatusApproved  = "APPROVED"

	EventOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	EventCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	EventCaptureDeclined = "PAYMENT.CAPTURE.DECLINED"
)

var (
	// ErrWebhookUnverified is returned when PayPal does not vouch for a webhook.
	ErrWebhookUnverified = errors.New("paypal webhook signature not verified")

	// ErrNoApproveLink is returned when a created order carries no approve link.
	ErrNoApproveLink = errors.New("paypal order has no approve link")
)

// Client talks to the PayPal REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Config holds PayPal application credentials.
type Config struct {
	BaseURL   string // e.g. "https://api-m.sandbox.paypal.com"
	ClientID  string
	Secret    string
	WebhookID string
	BrandName string
	Timeout   time.Duration
}

// NewClient creates a new PayPal client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "paypal"),
		now:    time.Now,
	}
}

// =============================================================================
// Types
// =============================================================================

// OrderRequest describes an order to create.
type OrderRequest struct {
	ReferenceID string
	Amount      int64 // minor units
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
}

// Link is a HATEOAS link on a PayPal resource.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Amount is a PayPal money value.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Capture is a captured payment inside an order.
type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

// PurchaseUnit is one purchase unit of an order.
type PurchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	Amount      Amount `json:"amount"`
	Payments    struct {
		Captures []Capture `json:"captures"`
	} `json:"payments"`
}

// Order is the subset of a PayPal order checkout reads.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Links         []Link         `json:"links"`
}

// ApproveURL returns the link the buyer must visit.
func (o *Order) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// ReferenceID returns the reference of the first purchase unit.
func (o *Order) ReferenceID() string {
	if len(o.PurchaseUnits) == 0 {
		return ""
	}
	return o.PurchaseUnits[0].ReferenceID
}

// CaptureID returns the id of the first capture, if any.
func (o *Order) CaptureID() string {
	for _, pu := range o.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			return pu.Payments.Captures[0].ID
		}
	}
	return ""
}

// WebhookEvent is a webhook notification envelope.
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

// WebhookResource holds the resource fields checkout needs for any event type.
type WebhookResource struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	CustomID          string         `json:"custom_id"`
	PurchaseUnits     []PurchaseUnit `json:"purchase_units"`
	Amount            Amount         `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// ParseWebhookEvent decodes a webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, *WebhookResource, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, nil, fmt.Errorf("decode webhook: %w", err)
	}
	var res WebhookResource
	if len(event.Resource) > 0 {
		if err := json.Unmarshal(event.Resource, &res); err != nil {
			return nil, nil, fmt.Errorf("decode webhook resource: %w", err)
		}
	}
	return &event, &res, nil
}

// OrderID returns the order a webhook resource belongs to.
func (r *WebhookResource) OrderID() string {
	if id := r.SupplementaryData.RelatedIDs.OrderID; id != "" {
		return id
	}
	return r.ID
}

// =============================================================================
// Operations
// =============================================================================

// Token returns an access token, fetching a new one shortly before the cached one expires.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := c.send(req, http.StatusOK, &result); err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if result.AccessToken == "" {
		return "", errors.New("fetch token: empty access token")
	}

	c.token = result.AccessToken
	c.expires = c.now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

// CreateOrder creates a CAPTURE order for one purchase unit.
func (c *Client) CreateOrder(ctx context.Context, o OrderRequest) (*Order, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": o.ReferenceID,
			"custom_id":    o.ReferenceID,
			"description":  o.Description,
			"amount": Amount{
				CurrencyCode: strings.ToUpper(o.Currency),
				Value:        domain.FormatMinor(o.Amount),
			},
		}},
		"application_context": map[string]any{
			"brand_name":          c.cfg.BrandName,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
			"return_url":          o.ReturnURL,
			"cancel_url":          o.CancelURL,
		},
	}

	var order Order
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, http.StatusCreated, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if order.ApproveURL() == "" {
		return nil, fmt.Errorf("create order %s: %w", order.ID, ErrNoApproveLink)
	}
	c.logger.Debug("order created", "order_id", order.ID, "reference_id", o.ReferenceID)
	return &order, nil
}

// CaptureOrder captures an approved order.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.doJSON(ctx, http.MethodPost, path, struct{}{}, http.StatusCreated, &order); err != nil {
		return nil, fmt.Errorf("capture order %s: %w", orderID, err)
	}
	return &order, nil
}

// VerifyWebhook asks PayPal whether a webhook delivery is genuine.
func (c *Client) VerifyWebhook(ctx context.Context, header http.Header, body []byte) error {
	if c.cfg.WebhookID == "" {
		return fmt.Errorf("%w: no webhook id configured", ErrWebhookUnverified)
	}
	payload := map[string]any{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, http.StatusOK, &result); err != nil {
		return fmt.Errorf("verify webhook: %w", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: status %q", ErrWebhookUnverified, result.VerificationStatus)
	}
	return nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) doJSON(ctx context.Context, method, path string, in any, want int, out any) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.send(req, want, out)
}

func (c *Client) send(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// Capture of an already captured order answers 200 as well.
	if resp.StatusCode != want && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
