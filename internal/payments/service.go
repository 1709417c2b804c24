// Package payments turns a checkout form into a booking and keeps the booking's
// status flag in step with what the payment gateways report.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	core "github.com/artpar/ringside/internal/core/chillpay"
	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/core/validation"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/shell/chillpay"
	"github.com/artpar/ringside/internal/shell/paypal"
)

var (
	// ErrProviderFailed is returned when the gateway refused to start a payment.
	ErrProviderFailed = errors.New("payment provider failed")

	// ErrProviderDisabled is returned for a provider that is not configured.
	ErrProviderDisabled = errors.New("payment provider not enabled")

	// ErrNotPurchasable is returned for unpublished, inactive or past items.
	ErrNotPurchasable = errors.New("item is not available for booking")

	// ErrSoldOut is returned when not enough seats or stock are left.
	ErrSoldOut = errors.New("not enough seats or stock left")

	// ErrAmountMismatch is returned when a gateway reports a different amount than the booking.
	ErrAmountMismatch = errors.New("paid amount does not match booking")
)

// ChillPayGateway is the part of the ChillPay client checkout uses.
type ChillPayGateway interface {
	CreatePayment(ctx context.Context, p chillpay.Payment) (*chillpay.PaymentResponse, error)
	VerifyCallback(form url.Values) (core.Callback, error)
}

// PayPalGateway is the part of the PayPal client checkout uses.
type PayPalGateway interface {
	CreateOrder(ctx context.Context, o paypal.OrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paypal.Order, error)
	VerifyWebhook(ctx context.Context, header http.Header, body []byte) error
}

// Config wires a Service. A nil gateway disables that provider.
type Config struct {
	Store    *engine.Store
	Bus      engine.CommandBus
	ChillPay ChillPayGateway
	PayPal   PayPalGateway
	BaseURL  string // public site URL used for gateway return links
	Logger   *slog.Logger
}

// Service creates bookings and applies gateway notifications to them.
type Service struct {
	store    *engine.Store
	bus      engine.CommandBus
	chillpay ChillPayGateway
	paypal   PayPalGateway
	baseURL  string
	logger   *slog.Logger
}

// NewService creates a payments service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		bus:      cfg.Bus,
		chillpay: cfg.ChillPay,
		paypal:   cfg.PayPal,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		logger:   logger.With("component", "payments"),
	}
}

// Providers returns the enabled providers in display order.
func (s *Service) Providers() []domain.Provider {
	var out []domain.Provider
	if s.chillpay != nil {
		out = append(out, domain.ProviderChillPay)
	}
	if s.paypal != nil {
		out = append(out, domain.ProviderPayPal)
	}
	return out
}

// =============================================================================
// Checkout
// =============================================================================

// CheckoutRequest is a submitted booking form.
type CheckoutRequest struct {
	ItemType      domain.ItemType
	ItemID        string // reference id or slug
	Quantity      int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Provider      domain.Provider
	IPAddress     string
}

// Checkout books an item and starts the payment with the chosen provider.
// On provider errors the booking is kept as FAILED and returned together with
// an error wrapping ErrProviderFailed.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (map[string]any, error) {
	if !s.enabled(req.Provider) {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, req.Provider)
	}
	if field, msg := validation.ValidateCheckoutFields(req.CustomerName, req.CustomerEmail, req.Quantity); field != "" {
		return nil, fmt.Errorf("%w: %s", engine.ErrValidation, msg)
	}

	table, err := req.ItemType.Resource()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	item, err := s.findItem(ctx, table, req.ItemID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPurchasable(req.ItemType, item, req.Quantity); err != nil {
		return nil, err
	}

	title := engine.String(item, titleField(req.ItemType))
	currency := engine.String(item, "currency")
	booking, err := s.store.Create(ctx, "bookings", map[string]any{
		"item_type":      string(req.ItemType),
		"item_id":        engine.String(item, "reference_id"),
		"item_title":     title,
		"quantity":       req.Quantity,
		"customer_name":  strings.TrimSpace(req.CustomerName),
		"customer_email": strings.TrimSpace(req.CustomerEmail),
		"customer_phone": strings.TrimSpace(req.CustomerPhone),
		"amount_cents":   engine.Int64(item, "price_cents") * req.Quantity,
		"currency":       currency,
		"provider":       string(req.Provider),
	})
	if err != nil {
		return nil, err
	}
	ref := engine.String(booking, "reference_id")

	providerRef, paymentURL, err := s.startPayment(ctx, req, booking)
	if err != nil {
		s.logger.Error("payment start failed", "booking", ref, "provider", req.Provider, "error", err)
		failed, ferr := s.transition(ctx, ref, domain.BookingFailed, map[string]any{"error_message": err.Error()})
		if ferr != nil {
			s.logger.Error("failed to mark booking failed", "booking", ref, "error", ferr)
			failed = booking
		}
		return failed, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	booking, err = s.transition(ctx, ref, domain.BookingProcessing, map[string]any{
		"provider_ref": providerRef,
		"payment_url":  paymentURL,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout started",
		"booking", ref,
		"provider", req.Provider,
		"provider_ref", providerRef,
		"amount", domain.DisplayMoney(engine.Int64(booking, "amount_cents"), currency),
	)
	return booking, nil
}

func (s *Service) enabled(p domain.Provider) bool {
	switch p {
	case domain.ProviderChillPay:
		return s.chillpay != nil
	case domain.ProviderPayPal:
		return s.paypal != nil
	}
	return false
}

// findItem resolves an item by reference id, falling back to its slug.
func (s *Service) findItem(ctx context.Context, table, id string) (map[string]any, error) {
	item, err := s.store.Get(ctx, table, id)
	if errors.Is(err, engine.ErrNotFound) {
		item, err = s.store.GetByField(ctx, table, "slug", id)
	}
	return item, err
}

func titleField(t domain.ItemType) string {
	if t == domain.ItemProduct {
		return "name"
	}
	return "title"
}

func (s *Service) checkPurchasable(t domain.ItemType, item map[string]any, qty int64) error {
	listed := engine.Bool(item, "active")
	if t == domain.ItemEvent {
		listed = engine.Bool(item, "published")
	}
	if ok, reason := validation.CanPurchase(listed, engine.Time(item, "starts_at"), s.store.Now()); !ok {
		return fmt.Errorf("%w: %s", ErrNotPurchasable, reason)
	}

	if t.TracksSeats() {
		if !domain.CanBook(engine.Int64(item, "seats_total"), engine.Int64(item, "seats_sold"), qty) {
			return ErrSoldOut
		}
		return nil
	}
	// stock is a count on hand; zero means sold out
	if engine.Int64(item, "stock") < qty {
		return ErrSoldOut
	}
	return nil
}

// startPayment asks the provider for a payment and returns its reference and payment page.
func (s *Service) startPayment(ctx context.Context, req CheckoutRequest, booking map[string]any) (string, string, error) {
	ref := engine.String(booking, "reference_id")
	amount := engine.Int64(booking, "amount_cents")
	currency := engine.String(booking, "currency")
	description := engine.String(booking, "item_title")

	switch req.Provider {
	case domain.ProviderChillPay:
		resp, err := s.chillpay.CreatePayment(ctx, chillpay.Payment{
			OrderNo:     ref,
			CustomerID:  engine.String(booking, "customer_email"),
			Amount:      amount,
			Currency:    currency,
			Description: description,
			PhoneNumber: engine.String(booking, "customer_phone"),
			Email:       engine.String(booking, "customer_email"),
			IPAddress:   req.IPAddress,
		})
		if err != nil {
			return "", "", err
		}
		return resp.TransactionID.String(), resp.PaymentURL, nil

	case domain.ProviderPayPal:
		order, err := s.paypal.CreateOrder(ctx, paypal.OrderRequest{
			ReferenceID: ref,
			Amount:      amount,
			Currency:    currency,
			Description: description,
			ReturnURL:   s.baseURL + "/payments/paypal/return",
			CancelURL:   s.baseURL + "/payments/paypal/cancel",
		})
		if err != nil {
			return "", "", err
		}
		return order.ID, order.ApproveURL(), nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrProviderDisabled, req.Provider)
}

// =============================================================================
// Settlement
// =============================================================================

// paths lists the transitions that take a booking from a status to a target.
// A FAILED booking that is later reported paid is reopened, since the money was taken.
var paths = map[domain.BookingStatus]map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingCompleted: {
		domain.BookingPending:    {domain.BookingProcessing, domain.BookingCompleted},
		domain.BookingProcessing: {domain.BookingCompleted},
		domain.BookingFailed:     {domain.BookingPending, domain.BookingProcessing, domain.BookingCompleted},
	},
	domain.BookingFailed: {
		domain.BookingPending:    {domain.BookingFailed},
		domain.BookingProcessing: {domain.BookingFailed},
	},
}

// settle moves a booking to COMPLETED or FAILED. Bookings already COMPLETED are
// left alone, so re-delivered notifications change nothing.
func (s *Service) settle(ctx context.Context, booking map[string]any, target domain.BookingStatus, changes map[string]any) (map[string]any, error) {
	ref := engine.String(booking, "reference_id")
	current := domain.BookingStatus(engine.String(booking, "status"))
	if current.IsFinal() || current == target {
		s.logger.Debug("booking already settled", "booking", ref, "status", current)
		return booking, nil
	}

	steps := paths[target][current]
	if len(steps) == 0 {
		return booking, nil
	}
	var err error
	for i, step := range steps {
		var stepChanges map[string]any
		if i == len(steps)-1 {
			stepChanges = changes
		}
		booking, err = s.transition(ctx, ref, step, stepChanges)
		if err != nil {
			return nil, err
		}
	}
	return booking, nil
}

// transition applies one state change and dispatches its command.
func (s *Service) transition(ctx context.Context, ref string, to domain.BookingStatus, changes map[string]any) (map[string]any, error) {
	row, cmd, err := s.store.TransitionWith(ctx, "bookings", ref, string(to), changes)
	if err != nil {
		return nil, err
	}
	if cmd != "" && s.bus != nil {
		if err := s.bus.Dispatch(ctx, cmd, row); err != nil {
			s.logger.Error("command failed", "command", cmd, "booking", ref, "error", err)
		}
	}
	return row, nil
}

// complete marks a booking paid after checking the amount the gateway reported.
func (s *Service) complete(ctx context.Context, booking map[string]any, providerRef string, paid int64) (map[string]any, error) {
	if domain.BookingStatus(engine.String(booking, "status")).IsFinal() {
		return booking, nil
	}
	want := engine.Int64(booking, "amount_cents")
	if paid != want {
		ref := engine.String(booking, "reference_id")
		msg := fmt.Sprintf("amount mismatch: paid %s, expected %s",
			domain.FormatMinor(paid), domain.FormatMinor(want))
		s.logger.Error("paid amount does not match booking", "booking", ref, "paid", paid, "expected", want)
		if _, err := s.settle(ctx, booking, domain.BookingFailed, map[string]any{"error_message": msg}); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: booking %s", ErrAmountMismatch, ref)
	}

	changes := map[string]any{"error_message": nil}
	if providerRef != "" {
		changes["provider_ref"] = providerRef
	}
	return s.settle(ctx, booking, domain.BookingCompleted, changes)
}

// fail marks a booking failed with a reason.
func (s *Service) fail(ctx context.Context, booking map[string]any, reason string) (map[string]any, error) {
	return s.settle(ctx, booking, domain.BookingFailed, map[string]any{"error_message": reason})
}

// =============================================================================
// Payment events
// =============================================================================

// RecordEvent appends a raw gateway notification to payment_events.
func (s *Service) RecordEvent(ctx context.Context, provider domain.Provider, bookingRef, kind, payload string) error {
	_, err := s.store.RawExec(ctx,
		"INSERT INTO payment_events (provider, booking_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		string(provider), bookingRef, kind, payload, s.store.Now())
	if err != nil {
		return fmt.Errorf("record payment event: %w", err)
	}
	return nil
}

// PaymentEvent is one stored gateway notification.
type PaymentEvent struct {
	Provider string
	Kind     string
	Payload  string
}

// Events returns the notifications recorded for a booking, oldest first.
func (s *Service) Events(ctx context.Context, bookingRef string) ([]PaymentEvent, error) {
	rows, err := s.store.RawQuery(ctx,
		"SELECT provider, kind, payload FROM payment_events WHERE booking_id = ? ORDER BY id", bookingRef)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	events := make([]PaymentEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, PaymentEvent{
			Provider: engine.String(row, "provider"),
			Kind:     engine.String(row, "kind"),
			Payload:  engine.String(row, "payload"),
		})
	}
	return events, nil
}
