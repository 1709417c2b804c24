package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/ringside/internal/core/domain"
)

// BookingSnapshot is the booking row a status transition emitted a command for.
type BookingSnapshot struct {
	Ref          string
	ItemType     domain.ItemType
	ItemID       string
	Quantity     int64
	AmountCents  int64
	Currency     string
	Provider     domain.Provider
	ErrorMessage string
	PaidAt       time.Time
}

func snapshotBooking(row map[string]any) BookingSnapshot {
	return BookingSnapshot{
		Ref:          String(row, "reference_id"),
		ItemType:     domain.ItemType(String(row, "item_type")),
		ItemID:       String(row, "item_id"),
		Quantity:     Int64(row, "quantity"),
		AmountCents:  Int64(row, "amount_cents"),
		Currency:     String(row, "currency"),
		Provider:     domain.Provider(String(row, "provider")),
		ErrorMessage: String(row, "error_message"),
		PaidAt:       Time(row, "paid_at"),
	}
}

// Deps is what booking handlers may touch.
type Deps struct {
	Store  *Store
	Logger *slog.Logger
}

// BookingHandler reacts to a booking entering a status.
type BookingHandler func(ctx context.Context, deps Deps, b BookingSnapshot) error

// Bus implements CommandBus for the booking state machine.
type Bus struct {
	deps Deps

	mu       sync.RWMutex
	handlers map[string]BookingHandler
}

// NewBus creates a bus with no handlers. See RegisterHandlers.
func NewBus(store *Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		deps:     Deps{Store: store, Logger: logger.With("component", "bus")},
		handlers: make(map[string]BookingHandler),
	}
}

// On sets the handler for a command, replacing any earlier one.
func (b *Bus) On(command string, h BookingHandler) {
	b.mu.Lock()
	b.handlers[command] = h
	b.mu.Unlock()
}

// Dispatch runs the handler for command against the transitioned row.
// Commands without a handler are logged and dropped.
func (b *Bus) Dispatch(ctx context.Context, command string, row map[string]any) error {
	b.mu.RLock()
	h, ok := b.handlers[command]
	b.mu.RUnlock()
	if !ok {
		b.deps.Logger.Warn("no handler registered for command", "command", command)
		return nil
	}

	snap := snapshotBooking(row)
	if snap.Ref == "" {
		return fmt.Errorf("command %s: %w: row has no reference_id", command, ErrValidation)
	}
	b.deps.Logger.Debug("dispatching command", "command", command, "booking", snap.Ref)
	if err := h(ctx, b.deps, snap); err != nil {
		b.deps.Logger.Error("command failed", "command", command, "booking", snap.Ref, "error", err)
		return fmt.Errorf("command %s: %w", command, err)
	}
	return nil
}
