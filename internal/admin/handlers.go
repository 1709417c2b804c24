package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
)

const recentBookings = 10

// =============================================================================
// Sessions
// =============================================================================

type loginView struct {
	Email string
	Next  string
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if engine.AuthFromRequest(r).Authenticated {
		http.Redirect(w, r, safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
		return
	}
	p := h.newPage(w, r, "Sign in", loginView{Next: r.URL.Query().Get("next")})
	h.render(w, http.StatusOK, "login.html", p)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email := r.PostForm.Get("email")
	next := r.PostForm.Get("next")

	admin, err := h.store.Authenticate(ctx, email, r.PostForm.Get("password"))
	if err != nil {
		if !errors.Is(err, engine.ErrBadCredentials) {
			h.logger.Error("failed to authenticate admin", "error", err)
		}
		p := h.newPage(w, r, "Sign in", loginView{Email: email, Next: next})
		p.Error = engine.ErrBadCredentials.Error()
		h.render(w, http.StatusUnauthorized, "login.html", p)
		return
	}

	token, expires, err := h.store.CreateSession(ctx, admin.ID, h.sessionTTL)
	if err != nil {
		h.logger.Error("failed to create session", "admin", admin.Email, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     engine.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("admin signed in", "admin", admin.Email)
	http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(engine.SessionCookie); err == nil && c.Value != "" {
		if err := h.store.DeleteSession(r.Context(), c.Value); err != nil {
			h.logger.Error("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: engine.SessionCookie, Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// safeNext only follows local admin paths after sign-in.
func safeNext(next string) string {
	if strings.HasPrefix(next, "/admin") && !strings.HasPrefix(next, "//") {
		return next
	}
	return "/admin"
}

// =============================================================================
// Dashboard
// =============================================================================

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var view dashboardView

	for _, res := range h.store.Resources() {
		n, err := h.store.Count(ctx, res.Name)
		if err != nil {
			h.serverError(w, "count "+res.Name, err)
			return
		}
		view.Counts = append(view.Counts, countItem{Name: res.Name, Label: engine.Humanize(res.Name), Count: n})
	}

	rows, err := h.store.RawQuery(ctx,
		"SELECT currency, CAST(SUM(amount_cents) AS BIGINT) AS total, COUNT(*) AS n FROM bookings WHERE status = ? GROUP BY currency ORDER BY currency",
		string(domain.BookingCompleted))
	if err != nil {
		h.serverError(w, "sum revenue", err)
		return
	}
	for _, row := range rows {
		currency := engine.String(row, "currency")
		view.Revenue = append(view.Revenue, revenueItem{
			Currency: currency,
			Amount:   domain.DisplayMoney(engine.Int64(row, "total"), currency),
			Bookings: engine.Int64(row, "n"),
		})
	}

	latest, err := h.store.List(ctx, "bookings", engine.Query{Sort: "-created_at", Page: engine.Page{Limit: recentBookings}})
	if err != nil {
		h.serverError(w, "list bookings", err)
		return
	}
	for _, row := range latest.Rows {
		view.Bookings = append(view.Bookings, bookingItem{
			Ref:      engine.String(row, "reference_id"),
			Customer: engine.String(row, "customer_name"),
			Item:     engine.String(row, "item_title"),
			Amount:   domain.DisplayMoney(engine.Int64(row, "amount_cents"), engine.String(row, "currency")),
			Provider: engine.String(row, "provider"),
			Status:   engine.String(row, "status"),
			Created:  engine.Time(row, "created_at"),
		})
	}

	h.render(w, http.StatusOK, "dashboard.html", h.newPage(w, r, "Dashboard", view))
}

// =============================================================================
// Resource list
// =============================================================================

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, ok := h.resource(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := engine.Query{Search: q.Get("q"), Sort: q.Get("sort"), Page: engine.DefaultPage()}
	if field := query.Sort; field != "" && !res.HasColumn(strings.TrimPrefix(field, "-")) {
		query.Sort = ""
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 1 {
		query.Page.Offset = (n - 1) * query.Page.Limit
	}
	if res.StateMachine != nil {
		if status := q.Get("status"); status != "" {
			query.Filters = append(query.Filters, engine.Eq(res.StateMachine.Field, status))
		}
	}

	result, err := h.store.List(ctx, res.Name, query)
	if err != nil {
		h.serverError(w, "list "+res.Name, err)
		return
	}

	fields := listColumns(res)
	refs := make(map[string]map[int64]string)
	for _, f := range fields {
		if f.Type == engine.TypeRef {
			if _, done := refs[f.RefTable]; !done {
				refs[f.RefTable] = h.refTitles(ctx, f.RefTable)
			}
		}
	}

	view := listView{
		Resource:  res.Name,
		Label:     engine.Humanize(res.Name),
		Columns:   buildColumns(res, fields, q),
		Search:    query.Search,
		Total:     result.Total,
		Page:      result.Page.Number(),
		CanCreate: res.StateMachine == nil,
	}
	view.Pages = (result.Total + result.Page.Limit - 1) / result.Page.Limit
	if view.Pages == 0 {
		view.Pages = 1
	}
	if view.Page > 1 {
		view.PrevURL = listURL(res.Name, q, "page", strconv.Itoa(view.Page-1))
	}
	if view.Page < view.Pages {
		view.NextURL = listURL(res.Name, q, "page", strconv.Itoa(view.Page+1))
	}

	for _, row := range result.Rows {
		lr := listRow{Ref: engine.String(row, "reference_id"), Title: res.Title(row)}
		for _, f := range fields {
			lr.Cells = append(lr.Cells, formatCell(f, row, refs))
		}
		for _, name := range res.Toggles {
			f := res.FieldByName(name)
			lr.Toggles = append(lr.Toggles, toggleButton{Field: name, Label: f.DisplayLabel(), On: engine.Bool(row, name)})
		}
		if sm := res.StateMachine; sm != nil {
			lr.Transitions = sm.NextStates(engine.String(row, sm.Field))
		}
		view.Rows = append(view.Rows, lr)
	}

	h.render(w, http.StatusOK, "list.html", h.newPage(w, r, view.Label, view))
}

// =============================================================================
// Create and update
// =============================================================================

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	h.renderForm(w, r, http.StatusOK, res, nil, nil, "")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, ok := h.resource(w, r)
	if !ok {
		return
	}

	data, err := h.readForm(r, res, true)
	if err == nil {
		var row map[string]any
		row, err = h.store.Create(ctx, res.Name, data)
		if err == nil {
			h.logger.Info("row created", "resource", res.Name, "ref", engine.String(row, "reference_id"), "admin", engine.AuthFromRequest(r).Email)
			h.redirectWithFlash(w, r, "/admin/"+res.Name, res.DisplayLabel()+" created.")
			return
		}
	}
	h.formError(w, r, res, nil, err)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	row, err := h.store.Get(r.Context(), res.Name, mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, r, res, err)
		return
	}
	h.renderForm(w, r, http.StatusOK, res, row, row, "")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	existing, err := h.store.Get(ctx, res.Name, id)
	if err != nil {
		h.storeError(w, r, res, err)
		return
	}

	data, err := h.readForm(r, res, false)
	if err == nil {
		_, err = h.store.Update(ctx, res.Name, id, data)
		if err == nil {
			h.logger.Info("row updated", "resource", res.Name, "ref", id, "admin", engine.AuthFromRequest(r).Email)
			h.redirectWithFlash(w, r, "/admin/"+res.Name, res.DisplayLabel()+" saved.")
			return
		}
	}
	h.formError(w, r, res, existing, err)
}

// readForm parses the request and returns typed values ready for the store.
func (h *Handler) readForm(r *http.Request, res *engine.Resource, creating bool) (map[string]any, error) {
	if err := parseRequest(r); err != nil {
		return nil, err
	}
	data, err := decodeForm(res, r, creating)
	if err != nil {
		return nil, err
	}
	if err := h.storeUploads(r.Context(), res, r, data, creating); err != nil {
		return nil, err
	}
	return data, nil
}

// formError re-displays the submitted form for validation errors.
func (h *Handler) formError(w http.ResponseWriter, r *http.Request, res *engine.Resource, existing map[string]any, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrConflict), errors.Is(err, engine.ErrUnknownField):
		values := submittedValues(res, r)
		h.renderForm(w, r, http.StatusUnprocessableEntity, res, existing, values, err.Error())
	default:
		h.storeError(w, r, res, err)
	}
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, status int, res *engine.Resource, existing, values map[string]any, errMsg string) {
	view := formView{
		Resource: res.Name,
		Label:    res.DisplayLabel(),
		Action:   "/admin/" + res.Name,
		Fields:   h.formFields(r.Context(), res, values),
	}
	title := "New " + strings.ToLower(view.Label)
	if existing != nil {
		view.Ref = engine.String(existing, "reference_id")
		view.Action = "/admin/" + res.Name + "/" + view.Ref
		title = "Edit " + strings.ToLower(view.Label)
		if sm := res.StateMachine; sm != nil {
			view.Status = engine.String(existing, sm.Field)
			view.Transitions = sm.NextStates(view.Status)
		}
	}
	for _, f := range res.Fields {
		if f.Upload && h.media != nil {
			view.Multipart = true
		}
	}

	p := h.newPage(w, r, title, view)
	p.Error = errMsg
	h.render(w, status, "form.html", p)
}

// =============================================================================
// Row actions
// =============================================================================

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	back := "/admin/" + res.Name

	err := h.store.Delete(r.Context(), res.Name, id)
	switch {
	case err == nil:
		h.logger.Info("row deleted", "resource", res.Name, "ref", id, "admin", engine.AuthFromRequest(r).Email)
		h.redirectWithFlash(w, r, back, res.DisplayLabel()+" deleted.")
	case errors.Is(err, engine.ErrConflict):
		h.redirectWithFlash(w, r, back, "Cannot delete: "+conflictReason(err))
	default:
		h.storeError(w, r, res, err)
	}
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if !res.IsToggle(vars["field"]) {
		http.NotFound(w, r)
		return
	}
	if _, err := h.store.Toggle(r.Context(), res.Name, vars["id"], vars["field"]); err != nil {
		h.storeError(w, r, res, err)
		return
	}
	http.Redirect(w, r, backTo(r, "/admin/"+res.Name), http.StatusSeeOther)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, ok := h.resource(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if res.StateMachine == nil {
		http.NotFound(w, r)
		return
	}

	row, cmd, err := h.store.TransitionWith(ctx, res.Name, vars["id"], vars["state"], nil)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrGuardFailed):
		h.redirectWithFlash(w, r, backTo(r, "/admin/"+res.Name), err.Error())
		return
	default:
		h.storeError(w, r, res, err)
		return
	}

	// The new state is saved; a failing command is logged.
	if cmd != "" {
		if err := h.bus.Dispatch(ctx, cmd, row); err != nil {
			h.logger.Error("command dispatch failed", "command", cmd, "ref", vars["id"], "error", err)
		}
	}
	h.logger.Info("row transitioned", "resource", res.Name, "ref", vars["id"], "state", vars["state"], "admin", engine.AuthFromRequest(r).Email)
	h.redirectWithFlash(w, r, backTo(r, "/admin/"+res.Name), fmt.Sprintf("%s is now %s.", res.DisplayLabel(), vars["state"]))
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) resource(w http.ResponseWriter, r *http.Request) (*engine.Resource, bool) {
	res := h.store.Resource(mux.Vars(r)["resource"])
	if res == nil {
		http.NotFound(w, r)
		return nil, false
	}
	return res, true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, res *engine.Resource, err error) {
	status := engine.ErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.serverError(w, res.Name, err)
		return
	}
	if status == http.StatusNotFound {
		http.NotFound(w, r)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("admin request failed", "op", op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// backTo returns the form's "back" value when it is an admin path.
func backTo(r *http.Request, fallback string) string {
	if back := r.FormValue("back"); strings.HasPrefix(back, "/admin/") && !strings.HasPrefix(back, "//") {
		return back
	}
	return fallback
}

func conflictReason(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}
