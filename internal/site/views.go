package site

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/core/validation"
	"github.com/artpar/ringside/internal/engine"
)

// itemView is a bookable event, course or product.
type itemView struct {
	Type        domain.ItemType
	Ref         string
	Path        string
	Title       string
	Description string
	ImageURL    string
	Price       string
	Venue       string
	StartsAt    time.Time
	Level       string
	Days        int64
	Left        int64 // -1 when unlimited
	Bookable    bool
	MaxQuantity int64
	Providers   []domain.Provider
}

func (h *Handler) itemView(t domain.ItemType, row map[string]any, venues map[int64]string) itemView {
	v := itemView{
		Type:        t,
		Ref:         engine.String(row, "reference_id"),
		Description: engine.String(row, "description"),
		ImageURL:    engine.String(row, "image_url"),
		Price:       domain.DisplayMoney(engine.Int64(row, "price_cents"), engine.String(row, "currency")),
		Venue:       venues[engine.Int64(row, "venue_id")],
	}
	slug := engine.String(row, "slug")

	switch t {
	case domain.ItemEvent:
		v.Path = "/events/" + slug
		v.Title = engine.String(row, "title")
		v.StartsAt = engine.Time(row, "starts_at")
		v.Left = domain.Availability(engine.Int64(row, "seats_total"), engine.Int64(row, "seats_sold"))
		v.Bookable = v.StartsAt.After(h.store.Now())
	case domain.ItemCourse:
		v.Path = "/courses/" + slug
		v.Title = engine.String(row, "title")
		v.Level = engine.String(row, "level")
		v.Days = engine.Int64(row, "duration_days")
		v.Left = domain.Availability(engine.Int64(row, "seats_total"), engine.Int64(row, "seats_sold"))
		v.Bookable = true
	case domain.ItemProduct:
		v.Path = "/products/" + slug
		v.Title = engine.String(row, "name")
		v.Left = max(engine.Int64(row, "stock"), 0)
		v.Bookable = true
	}

	v.Bookable = v.Bookable && v.Left != 0
	v.MaxQuantity = validation.MaxQuantity
	if v.Left > 0 && v.Left < validation.MaxQuantity {
		v.MaxQuantity = v.Left
	}
	if h.checkout != nil {
		v.Providers = h.checkout.Providers()
	}
	return v
}

type fighterView struct {
	Name        string
	Nickname    string
	Gym         string
	WeightClass string
	Record      string
	Nationality string
	Bio         string
	ImageURL    string
}

func fighterFromRow(row map[string]any) fighterView {
	return fighterView{
		Name:        engine.String(row, "name"),
		Nickname:    engine.String(row, "nickname"),
		Gym:         engine.String(row, "gym"),
		WeightClass: engine.String(row, "weight_class"),
		Record: fmt.Sprintf("%d-%d-%d",
			engine.Int64(row, "wins"), engine.Int64(row, "losses"), engine.Int64(row, "draws")),
		Nationality: engine.String(row, "nationality"),
		Bio:         engine.String(row, "bio"),
		ImageURL:    engine.String(row, "image_url"),
	}
}

type venueView struct {
	Name        string
	City        string
	Province    string
	Address     string
	Description string
	ImageURL    string
	Capacity    int64
}

func venueFromRow(row map[string]any) venueView {
	return venueView{
		Name:        engine.String(row, "name"),
		City:        engine.String(row, "city"),
		Province:    engine.String(row, "province"),
		Address:     engine.String(row, "address"),
		Description: engine.String(row, "description"),
		ImageURL:    engine.String(row, "image_url"),
		Capacity:    engine.Int64(row, "capacity"),
	}
}

type postView struct {
	Path        string
	Title       string
	Excerpt     string
	Body        string
	Author      string
	CoverURL    string
	PublishedAt time.Time
}

func postFromRow(row map[string]any) postView {
	return postView{
		Path:        "/blog/" + engine.String(row, "slug"),
		Title:       engine.String(row, "title"),
		Excerpt:     engine.String(row, "excerpt"),
		Body:        engine.String(row, "body"),
		Author:      engine.String(row, "author"),
		CoverURL:    engine.String(row, "cover_image_url"),
		PublishedAt: engine.Time(row, "published_at"),
	}
}

type bookingView struct {
	Ref        string
	Item       string
	Quantity   int64
	Amount     string
	Customer   string
	Provider   string
	Status     string
	Message    string
	PaymentURL string
	PaidAt     time.Time
}

func bookingFromRow(row map[string]any) bookingView {
	v := bookingView{
		Ref:      engine.String(row, "reference_id"),
		Item:     engine.String(row, "item_title"),
		Quantity: engine.Int64(row, "quantity"),
		Amount:   domain.DisplayMoney(engine.Int64(row, "amount_cents"), engine.String(row, "currency")),
		Customer: engine.String(row, "customer_name"),
		Provider: engine.Humanize(engine.String(row, "provider")),
		Status:   engine.String(row, "status"),
		Message:  engine.String(row, "error_message"),
		PaidAt:   engine.Time(row, "paid_at"),
	}
	if domain.BookingStatus(v.Status) == domain.BookingProcessing {
		v.PaymentURL = engine.String(row, "payment_url")
	}
	return v
}

// venueNames maps venue ids to names for item listings.
func (h *Handler) venueNames(ctx context.Context) map[int64]string {
	result, err := h.store.List(ctx, "venues", engine.Query{Page: engine.Page{Limit: engine.MaxPageSize}})
	if err != nil {
		h.logger.Warn("failed to load venues", "error", err)
		return nil
	}
	names := make(map[int64]string, len(result.Rows))
	for _, row := range result.Rows {
		names[engine.Int64(row, "id")] = engine.String(row, "name")
	}
	return names
}
