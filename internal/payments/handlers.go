package payments

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	core "github.com/artpar/ringside/internal/core/chillpay"
	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/shell/paypal"
)

const maxWebhookBody = 1 << 20

// Mount registers the gateway return, callback and webhook routes.
func (s *Service) Mount(r *mux.Router) {
	r.HandleFunc("/payments/chillpay/callback", s.handleChillPayCallback).Methods("POST")
	r.HandleFunc("/payments/chillpay/result", s.handleChillPayResult).Methods("GET", "POST")
	r.HandleFunc("/payments/paypal/return", s.handlePayPalReturn).Methods("GET")
	r.HandleFunc("/payments/paypal/cancel", s.handlePayPalCancel).Methods("GET")
	r.HandleFunc("/payments/paypal/webhook", s.handlePayPalWebhook).Methods("POST")
}

// BookingPath is the public status page of a booking.
func BookingPath(ref string) string {
	return "/bookings/" + url.PathEscape(ref)
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// =============================================================================
// ChillPay
// =============================================================================

func (s *Service) handleChillPayCallback(w http.ResponseWriter, r *http.Request) {
	if s.chillpay == nil {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	orderNo := r.PostForm.Get("OrderNo")
	if err := s.RecordEvent(ctx, domain.ProviderChillPay, orderNo, "callback", r.PostForm.Encode()); err != nil {
		s.logger.Error("failed to record callback", "booking", orderNo, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	cb, err := s.chillpay.VerifyCallback(r.PostForm)
	if err != nil {
		s.logger.Warn("rejected chillpay callback", "booking", orderNo, "error", err)
		http.Error(w, "invalid checksum", http.StatusBadRequest)
		return
	}

	if err := s.HandleChillPayCallback(ctx, cb); err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			http.Error(w, "unknown order", http.StatusNotFound)
		case errors.Is(err, ErrAmountMismatch):
			// the booking has been failed; nothing for ChillPay to retry
			ack(w)
		default:
			s.logger.Error("chillpay callback failed", "booking", orderNo, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	ack(w)
}

// HandleChillPayCallback applies a verified ChillPay notification to its booking.
func (s *Service) HandleChillPayCallback(ctx context.Context, cb core.Callback) error {
	booking, err := s.store.Get(ctx, "bookings", cb.OrderNo)
	if err != nil {
		return err
	}

	switch cb.Outcome() {
	case core.OutcomePaid:
		paid, err := cb.AmountMinor()
		if err != nil {
			paid = -1
		}
		_, err = s.complete(ctx, booking, cb.TransactionID, paid)
		return err
	case core.OutcomeFailed:
		_, err = s.fail(ctx, booking, cb.StatusText())
		return err
	}
	s.logger.Info("chillpay payment still pending", "booking", cb.OrderNo, "status", cb.PaymentStatus)
	return nil
}

// handleChillPayResult is where ChillPay sends the customer back to.
func (s *Service) handleChillPayResult(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	orderNo := r.Form.Get("OrderNo")
	if orderNo == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, BookingPath(orderNo), http.StatusSeeOther)
}

// =============================================================================
// PayPal
// =============================================================================

func (s *Service) bookingForOrder(ctx context.Context, orderID string) (map[string]any, error) {
	if orderID == "" {
		return nil, engine.ErrNotFound
	}
	return s.store.GetByField(ctx, "bookings", "provider_ref", orderID)
}

func (s *Service) handlePayPalReturn(w http.ResponseWriter, r *http.Request) {
	if s.paypal == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	orderID := r.URL.Query().Get("token")
	booking, err := s.bookingForOrder(ctx, orderID)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ref := engine.String(booking, "reference_id")
	if err := s.RecordEvent(ctx, domain.ProviderPayPal, ref, "return", r.URL.RawQuery); err != nil {
		s.logger.Error("failed to record return", "booking", ref, "error", err)
	}

	if _, err := s.CapturePayPal(ctx, booking, orderID); err != nil {
		s.logger.Error("paypal capture failed", "booking", ref, "order_id", orderID, "error", err)
	}
	http.Redirect(w, r, BookingPath(ref), http.StatusSeeOther)
}

// CapturePayPal captures an approved order and completes the booking.
// Bookings already COMPLETED are returned untouched without calling PayPal.
func (s *Service) CapturePayPal(ctx context.Context, booking map[string]any, orderID string) (map[string]any, error) {
	if domain.BookingStatus(engine.String(booking, "status")).IsFinal() {
		return booking, nil
	}
	order, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != paypal.StatusCompleted {
		s.logger.Warn("paypal capture not completed", "order_id", orderID, "status", order.Status)
		return booking, nil
	}

	paid := int64(-1)
	for _, pu := range order.PurchaseUnits {
		for _, c := range pu.Payments.Captures {
			if amount, err := domain.ParseMoney(c.Amount.Value); err == nil {
				paid = amount
			}
		}
	}
	return s.complete(ctx, booking, orderID, paid)
}

func (s *Service) handlePayPalCancel(w http.ResponseWriter, r *http.Request) {
	if s.paypal == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	booking, err := s.bookingForOrder(ctx, r.URL.Query().Get("token"))
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	ref := engine.String(booking, "reference_id")
	if err := s.RecordEvent(ctx, domain.ProviderPayPal, ref, "cancel", r.URL.RawQuery); err != nil {
		s.logger.Error("failed to record cancel", "booking", ref, "error", err)
	}
	if _, err := s.fail(ctx, booking, "cancelled"); err != nil {
		s.logger.Error("failed to cancel booking", "booking", ref, "error", err)
	}
	http.Redirect(w, r, BookingPath(ref), http.StatusSeeOther)
}

func (s *Service) handlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	if s.paypal == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	event, res, err := paypal.ParseWebhookEvent(body)
	if err != nil {
		s.RecordEvent(ctx, domain.ProviderPayPal, "", "invalid", string(body))
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	booking, lookupErr := s.bookingForOrder(ctx, res.OrderID())
	if lookupErr != nil && res.CustomID != "" {
		booking, lookupErr = s.store.Get(ctx, "bookings", res.CustomID)
	}
	ref := engine.String(booking, "reference_id")
	if err := s.RecordEvent(ctx, domain.ProviderPayPal, ref, event.EventType, string(body)); err != nil {
		s.logger.Error("failed to record webhook", "event_type", event.EventType, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.paypal.VerifyWebhook(ctx, r.Header, body); err != nil {
		s.logger.Warn("rejected paypal webhook", "event_id", event.ID, "error", err)
		http.Error(w, "unverified", http.StatusBadRequest)
		return
	}

	if lookupErr != nil {
		s.logger.Warn("paypal webhook for unknown booking", "event_type", event.EventType, "order_id", res.OrderID())
		ack(w)
		return
	}

	if err := s.HandlePayPalEvent(ctx, booking, event, res); err != nil && !errors.Is(err, ErrAmountMismatch) {
		s.logger.Error("paypal webhook failed", "booking", ref, "event_type", event.EventType, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	ack(w)
}

// HandlePayPalEvent applies a verified webhook event to its booking.
func (s *Service) HandlePayPalEvent(ctx context.Context, booking map[string]any, event *paypal.WebhookEvent, res *paypal.WebhookResource) error {
	switch event.EventType {
	case paypal.EventOrderApproved:
		_, err := s.CapturePayPal(ctx, booking, res.OrderID())
		return err
	case paypal.EventCaptureComplete:
		paid, err := domain.ParseMoney(res.Amount.Value)
		if err != nil {
			paid = -1
		}
		_, err = s.complete(ctx, booking, res.OrderID(), paid)
		return err
	case paypal.EventCaptureDenied, paypal.EventCaptureDeclined:
		reason := "payment denied"
		if event.EventType == paypal.EventCaptureDeclined {
			reason = "payment declined"
		}
		_, err := s.fail(ctx, booking, reason)
		return err
	}
	s.logger.Debug("ignoring paypal event", "event_type", event.EventType)
	return nil
}
