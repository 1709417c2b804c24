// Package site serves the public pages: the catalogue, the blog and checkout.
package site

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/payments"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{
	"home.html", "item.html", "blog.html", "post.html",
	"fighters.html", "venues.html", "booking.html", "error.html",
}

// Checkout starts payments for submitted booking forms.
type Checkout interface {
	Checkout(ctx context.Context, req payments.CheckoutRequest) (map[string]any, error)
	Providers() []domain.Provider
}

// Config holds site handler dependencies.
type Config struct {
	Store    *engine.Store
	Checkout Checkout
	SiteName string
	Logger   *slog.Logger
}

// Handler serves the public site.
type Handler struct {
	store     *engine.Store
	checkout  Checkout
	siteName  string
	logger    *slog.Logger
	templates map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Mon 2 Jan 2006, 15:04")
	},
	"paragraphs": func(s string) []string {
		var out []string
		for _, p := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	},
	"title": engine.Humanize,
}

// New parses the templates and creates the site handler.
func New(cfg Config) (*Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SiteName == "" {
		cfg.SiteName = "Ringside"
	}

	templates := make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		tmpl, err := template.New(page).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", page, err)
		}
		templates[page] = tmpl
	}

	return &Handler{
		store:     cfg.Store,
		checkout:  cfg.Checkout,
		siteName:  cfg.SiteName,
		logger:    logger.With("component", "site"),
		templates: templates,
	}, nil
}

// Mount registers the public routes.
func (h *Handler) Mount(r *mux.Router) {
	r.HandleFunc("/", h.handleHome).Methods("GET")
	r.HandleFunc("/events/{slug}", h.handleItem(domain.ItemEvent)).Methods("GET")
	r.HandleFunc("/courses/{slug}", h.handleItem(domain.ItemCourse)).Methods("GET")
	r.HandleFunc("/products/{slug}", h.handleItem(domain.ItemProduct)).Methods("GET")
	r.HandleFunc("/blog", h.handleBlog).Methods("GET")
	r.HandleFunc("/blog/{slug}", h.handlePost).Methods("GET")
	r.HandleFunc("/fighters", h.handleFighters).Methods("GET")
	r.HandleFunc("/venues", h.handleVenues).Methods("GET")
	r.HandleFunc("/checkout", h.handleCheckout).Methods("POST")
	r.HandleFunc("/bookings/{id}", h.handleBooking).Methods("GET")
}

type page struct {
	Title    string
	SiteName string
	Data     any
}

func (h *Handler) render(w http.ResponseWriter, status int, name, title string, data any) {
	tmpl, ok := h.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	p := page{Title: title, SiteName: h.siteName, Data: data}
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		h.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

type errorView struct {
	Status  int
	Message string
	Back    string
}

func (h *Handler) renderError(w http.ResponseWriter, status int, msg, back string) {
	h.render(w, status, "error.html", http.StatusText(status), errorView{Status: status, Message: msg, Back: back})
}

func (h *Handler) notFound(w http.ResponseWriter) {
	h.renderError(w, http.StatusNotFound, "We could not find that page.", "/")
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("site request failed", "op", op, "error", err)
	h.renderError(w, http.StatusInternalServerError, "Something went wrong on our side. Please try again.", "/")
}
