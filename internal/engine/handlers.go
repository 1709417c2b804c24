package engine

import (
	"context"
	"fmt"

	"github.com/artpar/ringside/internal/core/domain"
)

// RegisterHandlers registers the booking handlers on the bus.
func RegisterHandlers(bus *Bus) {
	bus.On(CmdBookingCompleted, bookingCompleted)
	bus.On(CmdBookingFailed, bookingFailed)
}

// =============================================================================
// Booking Handlers
// =============================================================================

// bookingCompleted stamps paid_at and takes the booked quantity off the item.
func bookingCompleted(ctx context.Context, deps Deps, b BookingSnapshot) error {
	store := deps.Store

	if b.PaidAt.IsZero() {
		if _, err := store.Update(ctx, "bookings", b.Ref, map[string]any{"paid_at": store.Now()}); err != nil {
			return fmt.Errorf("stamp paid_at: %w", err)
		}
	}

	table, err := b.ItemType.Resource()
	if err != nil {
		return err
	}
	qty := max(b.Quantity, 1)

	if b.ItemType.TracksSeats() {
		query := fmt.Sprintf("UPDATE %s SET seats_sold = seats_sold + ?, updated_at = ? WHERE reference_id = ?", table)
		_, err = store.RawExec(ctx, query, qty, store.Now(), b.ItemID)
	} else {
		query := fmt.Sprintf("UPDATE %s SET stock = CASE WHEN stock > ? THEN stock - ? ELSE 0 END, updated_at = ? WHERE reference_id = ?", table)
		_, err = store.RawExec(ctx, query, qty, qty, store.Now(), b.ItemID)
	}
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, b.ItemID, err)
	}

	deps.Logger.Info("booking completed",
		"booking", b.Ref,
		"item_type", b.ItemType,
		"item", b.ItemID,
		"quantity", qty,
		"amount", domain.DisplayMoney(b.AmountCents, b.Currency),
	)
	return nil
}

func bookingFailed(_ context.Context, deps Deps, b BookingSnapshot) error {
	deps.Logger.Warn("booking failed",
		"booking", b.Ref,
		"provider", b.Provider,
		"reason", b.ErrorMessage,
	)
	return nil
}
