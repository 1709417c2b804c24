package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/ringside/internal/core/domain"
)

// ExpiredMessage is the error_message written to bookings abandoned at the gateway.
const ExpiredMessage = "payment expired"

// =============================================================================
// Payment Expirer
// =============================================================================

// PaymentExpirer periodically fails bookings that stayed unpaid for too long
// and purges expired admin sessions.
type PaymentExpirer struct {
	store    *Store
	bus      CommandBus
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPaymentExpirer creates an expirer. Bookings in PENDING or PROCESSING
// older than ttl are moved to FAILED.
func NewPaymentExpirer(store *Store, bus CommandBus, ttl, interval time.Duration, logger *slog.Logger) *PaymentExpirer {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	if interval == 0 {
		interval = time.Minute
	}
	if bus == nil {
		bus = noopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentExpirer{
		store:    store,
		bus:      bus,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "payment_expirer"),
	}
}

func (e *PaymentExpirer) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(1)
	go e.run()
	e.logger.Info("payment expirer started", "interval", e.interval, "ttl", e.ttl)
}

func (e *PaymentExpirer) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *PaymentExpirer) run() {
	defer e.wg.Done()
	e.tick()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *PaymentExpirer) tick() {
	if _, err := e.Sweep(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("payment sweep failed", "error", err)
	}
	if n, err := e.store.PurgeExpiredSessions(e.ctx); err != nil {
		e.logger.Error("failed to purge sessions", "error", err)
	} else if n > 0 {
		e.logger.Debug("purged expired sessions", "count", n)
	}
}

// Sweep runs one expiry pass and returns the number of bookings failed.
// At most MaxPageSize bookings are handled per pass; the rest wait for the next one.
func (e *PaymentExpirer) Sweep(ctx context.Context) (int, error) {
	cutoff := e.store.Now().Add(-e.ttl)
	result, err := e.store.List(ctx, "bookings", Query{
		Filters: []Filter{
			{Field: "status", Op: "in", Value: []string{string(domain.BookingPending), string(domain.BookingProcessing)}},
			{Field: "created_at", Op: "<", Value: cutoff},
		},
		Sort: "created_at",
		Page: Page{Limit: MaxPageSize},
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, row := range result.Rows {
		refID := strVal(row["reference_id"])
		updated, cmd, err := e.store.TransitionWith(ctx, "bookings", refID, string(domain.BookingFailed),
			map[string]any{"error_message": ExpiredMessage})
		if errors.Is(err, ErrInvalidTransition) {
			// Settled by a callback since it was listed.
			continue
		}
		if err != nil {
			e.logger.Error("failed to expire booking", "booking", refID, "error", err)
			continue
		}
		expired++
		e.logger.Info("booking expired", "booking", refID, "provider", strVal(row["provider"]), "created_at", row["created_at"])

		if cmd != "" {
			if err := e.bus.Dispatch(ctx, cmd, updated); err != nil {
				e.logger.Error("command dispatch failed", "command", cmd, "error", err)
			}
		}
	}
	return expired, nil
}
