// Package admin serves the server-rendered admin pages. Tables and forms are
// built from the engine schema, so every resource gets CRUD pages for free.
package admin

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/artpar/ringside/internal/engine"
	"github.com/artpar/ringside/internal/shell/media"
)

//go:embed templates/*.html
var templatesFS embed.FS

const flashCookie = "ringside_flash"

var pages = []string{"login.html", "dashboard.html", "list.html", "form.html"}

// Config holds admin handler dependencies.
type Config struct {
	Store        *engine.Store
	Bus          engine.CommandBus
	Media        media.Store // nil disables file uploads
	SiteName     string
	SessionTTL   time.Duration
	CookieSecure bool
	Logger       *slog.Logger
}

// Handler serves /admin.
type Handler struct {
	store        *engine.Store
	bus          engine.CommandBus
	media        media.Store
	siteName     string
	sessionTTL   time.Duration
	cookieSecure bool
	logger       *slog.Logger
	templates    map[string]*template.Template
}

// New parses the templates and creates the admin handler.
func New(cfg Config) (*Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
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
		store:        cfg.Store,
		bus:          cfg.Bus,
		media:        cfg.Media,
		siteName:     cfg.SiteName,
		sessionTTL:   cfg.SessionTTL,
		cookieSecure: cfg.CookieSecure,
		logger:       logger.With("component", "admin"),
		templates:    templates,
	}, nil
}

// Mount registers the admin routes.
func (h *Handler) Mount(r *mux.Router) {
	r.HandleFunc("/admin/login", h.handleLoginPage).Methods("GET")
	r.HandleFunc("/admin/login", h.handleLogin).Methods("POST")
	r.HandleFunc("/admin/logout", h.handleLogout).Methods("POST")

	r.HandleFunc("/admin", h.protected(h.handleDashboard)).Methods("GET")
	r.HandleFunc("/admin/", h.protected(h.handleDashboard)).Methods("GET")
	r.HandleFunc("/admin/{resource}", h.protected(h.handleList)).Methods("GET")
	r.HandleFunc("/admin/{resource}", h.protected(h.handleCreate)).Methods("POST")
	r.HandleFunc("/admin/{resource}/new", h.protected(h.handleNew)).Methods("GET")
	r.HandleFunc("/admin/{resource}/{id}/edit", h.protected(h.handleEdit)).Methods("GET")
	r.HandleFunc("/admin/{resource}/{id}", h.protected(h.handleUpdate)).Methods("POST")
	r.HandleFunc("/admin/{resource}/{id}/delete", h.protected(h.handleDelete)).Methods("POST")
	r.HandleFunc("/admin/{resource}/{id}/toggle/{field}", h.protected(h.handleToggle)).Methods("POST")
	r.HandleFunc("/admin/{resource}/{id}/transition/{state}", h.protected(h.handleTransition)).Methods("POST")
}

// protected redirects anonymous visitors to the login page.
func (h *Handler) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !engine.AuthFromRequest(r).Authenticated {
			http.Redirect(w, r, "/admin/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

// =============================================================================
// Rendering
// =============================================================================

// page is the data every admin template receives.
type page struct {
	Title     string
	SiteName  string
	Admin     engine.AuthContext
	Resources []navItem
	Active    string
	Flash     string
	Error     string
	Data      any
}

type navItem struct {
	Name  string
	Label string
}

func (h *Handler) newPage(w http.ResponseWriter, r *http.Request, title string, data any) page {
	nav := make([]navItem, 0, len(h.store.Resources()))
	for _, res := range h.store.Resources() {
		nav = append(nav, navItem{Name: res.Name, Label: engine.Humanize(res.Name)})
	}
	return page{
		Title:     title,
		SiteName:  h.siteName,
		Admin:     engine.AuthFromRequest(r),
		Resources: nav,
		Active:    mux.Vars(r)["resource"],
		Flash:     h.popFlash(w, r),
		Data:      data,
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, p page) {
	tmpl, ok := h.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		h.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// setFlash stores a one-shot message shown on the next page.
func (h *Handler) setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/admin",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60,
	})
}

func (h *Handler) popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/admin", MaxAge: -1})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, to, msg string) {
	h.setFlash(w, msg)
	http.Redirect(w, r, to, http.StatusSeeOther)
}
