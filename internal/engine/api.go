package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// CommandBus dispatches commands emitted by state machine transitions.
type CommandBus interface {
	Dispatch(ctx context.Context, command string, row map[string]any) error
}

// noopBus is a CommandBus that does nothing.
type noopBus struct{}

func (noopBus) Dispatch(_ context.Context, _ string, _ map[string]any) error { return nil }

// APIConfig configures the generic REST API.
type APIConfig struct {
	Store  *Store
	Bus    CommandBus
	Logger *slog.Logger
}

// RegisterRoutes registers generic CRUD routes for all resources in the schema.
// Routes follow JSON:API convention: /api/v1/{resource} and /api/v1/{resource}/{id}
func RegisterRoutes(router *mux.Router, cfg APIConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = noopBus{}
	}

	for _, res := range cfg.Store.Resources() {
		prefix := "/api/v1/" + res.Name

		router.HandleFunc(prefix, listHandler(cfg, res)).Methods("GET")
		router.HandleFunc(prefix, createHandler(cfg, res)).Methods("POST")
		router.HandleFunc(prefix+"/{id}", getHandler(cfg, res)).Methods("GET")
		router.HandleFunc(prefix+"/{id}", updateHandler(cfg, res)).Methods("PATCH")
		router.HandleFunc(prefix+"/{id}", deleteHandler(cfg, res)).Methods("DELETE")

		if len(res.Toggles) > 0 {
			router.HandleFunc(prefix+"/{id}/toggle/{field}", toggleHandler(cfg, res)).Methods("POST")
		}
		if res.StateMachine != nil {
			router.HandleFunc(prefix+"/{id}/transition/{state}", transitionHandler(cfg, res)).Methods("POST")
		}

		cfg.Logger.Debug("registered routes", "resource", res.Name, "prefix", prefix)
	}
}

// =============================================================================
// Generic Handlers
// =============================================================================

func listHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx := AuthFromRequest(r)
		if !authCtx.Authenticated && !res.PublicRead {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		q, err := parseQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !authCtx.Authenticated {
			q.Filters = append(q.Filters, res.PublicFilters...)
		}

		result, err := cfg.Store.List(r.Context(), res.Name, q)
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		for _, row := range result.Rows {
			stripFields(res, row)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowsToJSONAPI(res.Name, result.Rows),
			"meta": map[string]any{
				"total":  result.Total,
				"limit":  result.Page.Limit,
				"offset": result.Page.Offset,
			},
		})
	}
}

func getHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx := AuthFromRequest(r)
		if !authCtx.Authenticated && !res.PublicRead {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		row, err := cfg.Store.Get(r.Context(), res.Name, mux.Vars(r)["id"])
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}
		if !authCtx.Authenticated && !MatchesFilters(res, row, res.PublicFilters) {
			writeError(w, http.StatusNotFound, res.Name+" not found")
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func createHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromRequest(r).Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		data, err := parseJSONAPIBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		removeInternal(res, data)

		row, err := cfg.Store.Create(r.Context(), res.Name, data)
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func updateHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromRequest(r).Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		data, err := parseJSONAPIBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		removeInternal(res, data)

		row, err := cfg.Store.Update(r.Context(), res.Name, mux.Vars(r)["id"], data)
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func deleteHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromRequest(r).Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if err := cfg.Store.Delete(r.Context(), res.Name, mux.Vars(r)["id"]); err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func toggleHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !AuthFromRequest(r).Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		vars := mux.Vars(r)

		row, err := cfg.Store.Toggle(r.Context(), res.Name, vars["id"], vars["field"])
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

func transitionHandler(cfg APIConfig, res *Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !AuthFromRequest(r).Authenticated {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		vars := mux.Vars(r)

		row, cmd, err := cfg.Store.Transition(ctx, res.Name, vars["id"], vars["state"])
		if err != nil {
			writeStoreError(w, cfg.Logger, res, err)
			return
		}

		// The state is saved; a failing command is logged, not reported.
		if cmd != "" {
			if err := cfg.Bus.Dispatch(ctx, cmd, row); err != nil {
				cfg.Logger.Error("command dispatch failed", "command", cmd, "error", err)
			}
		}

		stripFields(res, row)
		writeJSON(w, http.StatusOK, map[string]any{
			"data": rowToJSONAPI(res.Name, row),
		})
	}
}

// =============================================================================
// JSON:API Response Helpers
// =============================================================================

// rowToJSONAPI converts a map row to a JSON:API resource object.
func rowToJSONAPI(resourceType string, row map[string]any) map[string]any {
	refID, _ := row["reference_id"].(string)

	attrs := make(map[string]any)
	for k, v := range row {
		if k == "id" || k == "reference_id" {
			continue
		}
		attrs[k] = v
	}

	return map[string]any{
		"type":       resourceType,
		"id":         refID,
		"attributes": attrs,
	}
}

// rowsToJSONAPI converts multiple rows to JSON:API format.
func rowsToJSONAPI(resourceType string, rows []map[string]any) []map[string]any {
	result := make([]map[string]any, len(rows))
	for i, row := range rows {
		result[i] = rowToJSONAPI(resourceType, row)
	}
	return result
}

// stripFields removes write-only fields and the integer primary key from a response row.
func stripFields(res *Resource, row map[string]any) {
	for _, f := range res.Fields {
		if f.WriteOnly {
			delete(row, f.Name)
		}
	}
	delete(row, "id")
}

// removeInternal drops fields clients may not set.
func removeInternal(res *Resource, data map[string]any) {
	for _, f := range res.Fields {
		if f.Internal {
			delete(data, f.Name)
		}
	}
}

// MatchesFilters reports whether a decoded row satisfies equality filters.
func MatchesFilters(res *Resource, row map[string]any, filters []Filter) bool {
	for _, f := range filters {
		want := f.Value
		if field := res.FieldByName(f.Field); field != nil {
			if v, err := coerceValue(*field, f.Value); err == nil {
				want = v
			}
		}
		if fmt.Sprint(row[f.Field]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// parseJSONAPIBody parses a JSON:API request body and returns the attributes map.
func parseJSONAPIBody(r *http.Request) (map[string]any, error) {
	var body struct {
		Data struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Attributes == nil {
		return nil, fmt.Errorf("missing data.attributes in request body")
	}
	return body.Data.Attributes, nil
}

// =============================================================================
// HTTP Response Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{
			{
				"status": strconv.Itoa(status),
				"title":  http.StatusText(status),
				"detail": detail,
			},
		},
	})
}

// ErrorStatus maps store errors to HTTP status codes.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownResource):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGuardFailed), errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeStoreError(w http.ResponseWriter, logger *slog.Logger, res *Resource, err error) {
	status := ErrorStatus(err)
	switch status {
	case http.StatusNotFound:
		writeError(w, status, res.Name+" not found")
	case http.StatusInternalServerError:
		logger.Error("store operation failed", "resource", res.Name, "error", err)
		writeError(w, status, "an unexpected error occurred")
	default:
		writeError(w, status, err.Error())
	}
}

// parseQuery reads filter[field], q, sort and page[...] query parameters.
func parseQuery(r *http.Request) (Query, error) {
	values := r.URL.Query()
	q := Query{
		Search: values.Get("q"),
		Sort:   values.Get("sort"),
		Page:   parsePage(r),
	}
	for key, vals := range values {
		if field, ok := strings.CutPrefix(key, "filter["); ok && strings.HasSuffix(field, "]") && len(vals) > 0 {
			q.Filters = append(q.Filters, Eq(strings.TrimSuffix(field, "]"), vals[0]))
		}
	}
	return q, nil
}

// parsePage extracts pagination from query parameters.
func parsePage(r *http.Request) Page {
	p := DefaultPage()
	if v := r.URL.Query().Get("page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	p = p.Normalize()
	if v := r.URL.Query().Get("page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	if v := r.URL.Query().Get("page[number]"); v != "" {
		if pn, err := strconv.Atoi(v); err == nil && pn > 0 {
			p.Offset = (pn - 1) * p.Limit
		}
	}
	return p.Normalize()
}
