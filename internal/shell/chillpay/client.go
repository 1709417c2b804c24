// Package chillpay provides a client for the ChillPay payment API.
package chillpay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	core "github.com/artpar/ringside/internal/core/chillpay"
)

// ErrPaymentRejected is returned when ChillPay answers with a non-zero status.
var ErrPaymentRejected = errors.New("chillpay rejected the payment request")

// APIError carries the status ChillPay returned for a rejected request.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chillpay status %d code %d: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrPaymentRejected
}

// Client talks to the ChillPay payment API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Config holds ChillPay merchant settings.
type Config struct {
	APIURL       string // e.g. "https://sandbox-appsrv2.chillpay.co"
	MerchantCode string
	APIKey       string
	MD5Secret    string
	RouteNo      string
	ChannelCode  string // e.g. "creditcard", "bank_qrcode"
	LangCode     string // "TH" or "EN"
	Timeout      time.Duration
}

// NewClient creates a new ChillPay client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cfg.LangCode == "" {
		cfg.LangCode = "TH"
	}
	if cfg.RouteNo == "" {
		cfg.RouteNo = "1"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "chillpay"),
	}
}

// =============================================================================
// Types
// =============================================================================

// Payment describes a payment to start.
type Payment struct {
	OrderNo     string
	CustomerID  string
	Amount      int64  // minor units
	Currency    string // ISO code, e.g. "THB"
	Description string
	PhoneNumber string
	Email       string
	IPAddress   string
}

// PaymentResponse is the JSON answer of the payment API.
type PaymentResponse struct {
	Status        int         `json:"Status"`
	Code          int         `json:"Code"`
	Message       string      `json:"Message"`
	TransactionID json.Number `json:"TransactionId"`
	Amount        json.Number `json:"Amount"`
	OrderNo       string      `json:"OrderNo"`
	CustomerID    string      `json:"CustomerId"`
	ChannelCode   string      `json:"ChannelCode"`
	PaymentURL    string      `json:"PaymentUrl"`
	ExpiredDate   string      `json:"ExpiredDate"`
}

// =============================================================================
// Operations
// =============================================================================

// CreatePayment posts a signed payment request and returns where to send the customer.
func (c *Client) CreatePayment(ctx context.Context, p Payment) (*PaymentResponse, error) {
	currency, err := core.CurrencyCode(p.Currency)
	if err != nil {
		return nil, err
	}

	req := core.PaymentRequest{
		MerchantCode: c.cfg.MerchantCode,
		OrderNo:      p.OrderNo,
		CustomerID:   p.CustomerID,
		Amount:       p.Amount,
		PhoneNumber:  p.PhoneNumber,
		Description:  p.Description,
		ChannelCode:  c.cfg.ChannelCode,
		Currency:     currency,
		LangCode:     c.cfg.LangCode,
		RouteNo:      c.cfg.RouteNo,
		IPAddress:    p.IPAddress,
		APIKey:       c.cfg.APIKey,
		CustEmail:    p.Email,
	}
	form := req.Form(c.cfg.MD5Secret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/api/v2/Payment/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("creating payment", "order_no", p.OrderNo, "amount", p.Amount, "currency", p.Currency)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Status != 0 {
		return nil, &APIError{Status: result.Status, Code: result.Code, Message: result.Message}
	}
	if result.PaymentURL == "" {
		return nil, fmt.Errorf("chillpay returned no payment url for %s", p.OrderNo)
	}
	return &result, nil
}

// VerifyCallback parses a posted notification and checks its checksum.
func (c *Client) VerifyCallback(form url.Values) (core.Callback, error) {
	cb := core.ParseCallback(form)
	if err := cb.Verify(c.cfg.MD5Secret); err != nil {
		c.logger.Warn("callback checksum mismatch", "order_no", cb.OrderNo)
		return cb, err
	}
	return cb, nil
}
