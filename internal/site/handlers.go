package site

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/payments"
)

const (
	homeListSize = 6
	blogPageSize = 10
)

type homeView struct {
	Events   []itemView
	Courses  []itemView
	Products []itemView
	Fighters []fighterView
	Posts    []postView
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	venues := h.venueNames(ctx)
	var view homeView

	events, err := h.store.List(ctx, "events", engine.Query{
		Filters: []engine.Filter{
			engine.Eq("published", true),
			{Field: "starts_at", Op: ">=", Value: h.store.Now()},
		},
		Sort: "starts_at",
		Page: engine.Page{Limit: homeListSize},
	})
	if err != nil {
		h.serverError(w, "list events", err)
		return
	}
	for _, row := range events.Rows {
		view.Events = append(view.Events, h.itemView(domain.ItemEvent, row, venues))
	}

	courses, err := h.store.List(ctx, "courses", engine.Query{Filters: h.public("courses"), Page: engine.Page{Limit: homeListSize}})
	if err != nil {
		h.serverError(w, "list courses", err)
		return
	}
	for _, row := range courses.Rows {
		view.Courses = append(view.Courses, h.itemView(domain.ItemCourse, row, venues))
	}

	products, err := h.store.List(ctx, "products", engine.Query{Filters: h.public("products"), Page: engine.Page{Limit: homeListSize}})
	if err != nil {
		h.serverError(w, "list products", err)
		return
	}
	for _, row := range products.Rows {
		view.Products = append(view.Products, h.itemView(domain.ItemProduct, row, venues))
	}

	fighters, err := h.store.List(ctx, "fighters", engine.Query{
		Filters: append(h.public("fighters"), engine.Eq("featured", true)),
		Page:    engine.Page{Limit: homeListSize},
	})
	if err != nil {
		h.serverError(w, "list fighters", err)
		return
	}
	for _, row := range fighters.Rows {
		view.Fighters = append(view.Fighters, fighterFromRow(row))
	}

	posts, err := h.store.List(ctx, "posts", engine.Query{Filters: h.public("posts"), Page: engine.Page{Limit: 3}})
	if err != nil {
		h.serverError(w, "list posts", err)
		return
	}
	for _, row := range posts.Rows {
		view.Posts = append(view.Posts, postFromRow(row))
	}

	h.render(w, http.StatusOK, "home.html", "", view)
}

func (h *Handler) handleItem(t domain.ItemType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		table, err := t.Resource()
		if err != nil {
			h.notFound(w)
			return
		}
		row, ok := h.publicRow(w, r, table)
		if !ok {
			return
		}

		var venues map[int64]string
		if id := engine.Int64(row, "venue_id"); id != 0 {
			if venue, err := h.store.GetByID(ctx, "venues", id); err == nil {
				venues = map[int64]string{id: engine.String(venue, "name")}
			}
		}
		view := h.itemView(t, row, venues)
		h.render(w, http.StatusOK, "item.html", view.Title, view)
	}
}

type blogView struct {
	Posts   []postView
	PrevURL string
	NextURL string
}

func (h *Handler) handleBlog(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("page"))
	n = max(n, 1)
	result, err := h.store.List(r.Context(), "posts", engine.Query{
		Filters: h.public("posts"),
		Page:    engine.Page{Limit: blogPageSize, Offset: (n - 1) * blogPageSize},
	})
	if err != nil {
		h.serverError(w, "list posts", err)
		return
	}

	var view blogView
	for _, row := range result.Rows {
		view.Posts = append(view.Posts, postFromRow(row))
	}
	if n > 1 {
		view.PrevURL = "/blog?page=" + strconv.Itoa(n-1)
	}
	if n*blogPageSize < result.Total {
		view.NextURL = "/blog?page=" + strconv.Itoa(n+1)
	}
	h.render(w, http.StatusOK, "blog.html", "Blog", view)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	row, ok := h.publicRow(w, r, "posts")
	if !ok {
		return
	}
	view := postFromRow(row)
	h.render(w, http.StatusOK, "post.html", view.Title, view)
}

type fightersView struct {
	Class    string
	Classes  []string
	Fighters []fighterView
}

func (h *Handler) handleFighters(w http.ResponseWriter, r *http.Request) {
	view := fightersView{Class: r.URL.Query().Get("class")}
	if f := h.store.Resource("fighters").FieldByName("weight_class"); f != nil {
		view.Classes = f.Choices
	}

	filters := h.public("fighters")
	if view.Class != "" {
		filters = append(filters, engine.Eq("weight_class", view.Class))
	}
	result, err := h.store.List(r.Context(), "fighters", engine.Query{
		Filters: filters,
		Sort:    "name",
		Page:    engine.Page{Limit: engine.MaxPageSize},
	})
	if err != nil {
		h.serverError(w, "list fighters", err)
		return
	}
	for _, row := range result.Rows {
		view.Fighters = append(view.Fighters, fighterFromRow(row))
	}
	h.render(w, http.StatusOK, "fighters.html", "Fighters", view)
}

func (h *Handler) handleVenues(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.List(r.Context(), "venues", engine.Query{
		Filters: h.public("venues"),
		Page:    engine.Page{Limit: engine.MaxPageSize},
	})
	if err != nil {
		h.serverError(w, "list venues", err)
		return
	}
	venues := make([]venueView, 0, len(result.Rows))
	for _, row := range result.Rows {
		venues = append(venues, venueFromRow(row))
	}
	h.render(w, http.StatusOK, "venues.html", "Venues", venues)
}

// =============================================================================
// Checkout
// =============================================================================

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderError(w, http.StatusBadRequest, "The booking form could not be read.", "/")
		return
	}
	if h.checkout == nil {
		h.renderError(w, http.StatusServiceUnavailable, "Online booking is not available right now.", backPath(r))
		return
	}

	// A form without a quantity selector books one unit.
	qty := int64(1)
	if raw := strings.TrimSpace(r.PostForm.Get("quantity")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.renderError(w, http.StatusUnprocessableEntity, "Please check your details: quantity must be a whole number", backPath(r))
			return
		}
		qty = n
	}
	req := payments.CheckoutRequest{
		ItemType:      domain.ItemType(r.PostForm.Get("item_type")),
		ItemID:        r.PostForm.Get("item_id"),
		Quantity:      qty,
		CustomerName:  strings.TrimSpace(r.PostForm.Get("customer_name")),
		CustomerEmail: strings.TrimSpace(r.PostForm.Get("customer_email")),
		CustomerPhone: strings.TrimSpace(r.PostForm.Get("customer_phone")),
		Provider:      domain.Provider(r.PostForm.Get("provider")),
		IPAddress:     clientIP(r),
	}

	booking, err := h.checkout.Checkout(r.Context(), req)
	switch {
	case err == nil:
		http.Redirect(w, r, engine.String(booking, "payment_url"), http.StatusSeeOther)
	case errors.Is(err, payments.ErrProviderFailed) && booking != nil:
		http.Redirect(w, r, payments.BookingPath(engine.String(booking, "reference_id")), http.StatusSeeOther)
	case errors.Is(err, engine.ErrNotFound):
		h.notFound(w)
	case errors.Is(err, payments.ErrSoldOut),
		errors.Is(err, payments.ErrNotPurchasable),
		errors.Is(err, payments.ErrProviderDisabled):
		h.renderError(w, http.StatusConflict, sentence(err), backPath(r))
	case errors.Is(err, engine.ErrValidation):
		h.renderError(w, http.StatusUnprocessableEntity, "Please check your details: "+detail(err), backPath(r))
	default:
		h.serverError(w, "checkout", err)
	}
}

func (h *Handler) handleBooking(w http.ResponseWriter, r *http.Request) {
	row, err := h.store.Get(r.Context(), "bookings", mux.Vars(r)["id"])
	if errors.Is(err, engine.ErrNotFound) {
		h.notFound(w)
		return
	}
	if err != nil {
		h.serverError(w, "get booking", err)
		return
	}
	view := bookingFromRow(row)
	h.render(w, http.StatusOK, "booking.html", "Booking "+view.Ref, view)
}

// =============================================================================
// Helpers
// =============================================================================

// public returns the filters anonymous visitors see a resource through.
func (h *Handler) public(resource string) []engine.Filter {
	res := h.store.Resource(resource)
	if res == nil {
		return nil
	}
	return append([]engine.Filter(nil), res.PublicFilters...)
}

// publicRow loads the row named by the slug route variable and hides rows
// that are not published or active.
func (h *Handler) publicRow(w http.ResponseWriter, r *http.Request, table string) (map[string]any, bool) {
	row, err := h.store.GetByField(r.Context(), table, "slug", mux.Vars(r)["slug"])
	if errors.Is(err, engine.ErrNotFound) {
		h.notFound(w)
		return nil, false
	}
	if err != nil {
		h.serverError(w, "get "+table, err)
		return nil, false
	}
	if res := h.store.Resource(table); !engine.MatchesFilters(res, row, res.PublicFilters) {
		h.notFound(w)
		return nil, false
	}
	return row, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// backPath returns the local page the form was posted from.
func backPath(r *http.Request) string {
	u, err := url.Parse(r.Referer())
	if err != nil || u.Path == "" || (u.Host != "" && u.Host != r.Host) {
		return "/"
	}
	return u.Path
}

// detail drops the sentinel prefix from a wrapped validation error.
func detail(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

func sentence(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[:i]
	}
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
