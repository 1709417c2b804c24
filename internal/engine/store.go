package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store errors
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrGuardFailed       = errors.New("transition guard failed")
	ErrValidation        = errors.New("validation error")
	ErrUnknownResource   = errors.New("unknown resource")
	ErrUnknownField      = errors.New("unknown field")
	ErrConflict          = errors.New("conflict")
)

// Store provides generic CRUD operations for all resources defined in the schema.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	schema  map[string]*Resource
	ordered []*Resource // schema order, parents before children
	now     func() time.Time
}

// NewStore creates a generic store over an open database.
func NewStore(db *sqlx.DB, resources []Resource) (*Store, error) {
	dialect, err := ParseDialect(db.DriverName())
	if err != nil {
		return nil, err
	}
	schema := make(map[string]*Resource, len(resources))
	ordered := make([]*Resource, 0, len(resources))
	for i := range resources {
		r := resources[i]
		schema[r.Name] = &r
		ordered = append(ordered, &r)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		schema:  schema,
		ordered: ordered,
		now:     time.Now,
	}, nil
}

// DB returns the underlying sqlx.DB.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the SQL dialect of the underlying database.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Resource returns the resource definition by name.
func (s *Store) Resource(name string) *Resource {
	return s.schema[name]
}

// Resources returns all resources in schema order.
func (s *Store) Resources() []*Resource {
	return s.ordered
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the store's current time, UTC, truncated to seconds.
func (s *Store) Now() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) resource(name string) (*Resource, error) {
	res, ok := s.schema[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return res, nil
}

// =============================================================================
// Queries
// =============================================================================

// Page selects a window of rows.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
)

func DefaultPage() Page {
	return Page{Limit: DefaultPageSize, Offset: 0}
}

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Number returns the 1-based page number.
func (p Page) Number() int {
	p = p.Normalize()
	return p.Offset/p.Limit + 1
}

// Filter restricts a query to rows where Field Op Value.
// Op is one of "=", "!=", "<", "<=", ">", ">=", "in"; empty means "=".
type Filter struct {
	Field string
	Op    string
	Value any
}

// Eq returns an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: "=", Value: value}
}

var filterOps = []string{"=", "!=", "<", "<=", ">", ">=", "in"}

// Query describes a list request.
type Query struct {
	Filters []Filter
	Search  string
	Sort    string // "field" or "-field"
	Page    Page
}

// ListResult is one page of rows plus the total number of matching rows.
type ListResult struct {
	Rows  []map[string]any
	Total int
	Page  Page
}

// =============================================================================
// CRUD Operations
// =============================================================================

// Create inserts a new row for the given resource.
// Runs the BeforeCreate hook, generates reference_id, applies defaults,
// computed fields and the initial state, then validates.
func (s *Store) Create(ctx context.Context, resource string, data map[string]any) (map[string]any, error) {
	res, err := s.resource(resource)
	if err != nil {
		return nil, err
	}
	data = maps.Clone(data)
	if data == nil {
		data = map[string]any{}
	}
	if err := checkKeys(res, data); err != nil {
		return nil, err
	}

	if res.BeforeCreate != nil {
		if err := res.BeforeCreate(ctx, s, data); err != nil {
			return nil, err
		}
	}

	refID := res.RefPrefix + uuid.New().String()[:8]
	if res.RefPrefix == "" {
		refID = uuid.New().String()
	}
	data["reference_id"] = refID

	for _, f := range res.Fields {
		if v, exists := data[f.Name]; (!exists || v == nil) && f.DefaultValue != nil {
			data[f.Name] = f.DefaultValue
		}
	}

	if res.StateMachine != nil {
		if v, _ := data[res.StateMachine.Field].(string); v == "" {
			data[res.StateMachine.Field] = res.StateMachine.Initial
		}
	}

	if err := s.prepare(ctx, res, data); err != nil {
		return nil, err
	}

	for _, f := range res.Fields {
		if f.Computed != nil {
			data[f.Name] = f.Computed(data)
		}
	}

	if err := validate(res, data, false); err != nil {
		return nil, err
	}

	now := s.Now()
	cols := []string{"reference_id"}
	args := []any{refID}
	for _, f := range res.Fields {
		if v, exists := data[f.Name]; exists {
			cols = append(cols, f.Name)
			args = append(args, v)
		}
	}
	cols = append(cols, "created_at", "updated_at")
	args = append(args, now, now)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		resource, strings.Join(cols, ", "), placeholders(len(cols)))

	var id int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(&id); err != nil {
		return nil, s.writeErr("create", resource, err)
	}

	return s.GetByID(ctx, resource, id)
}

// Get retrieves a single row by reference_id.
func (s *Store) Get(ctx context.Context, resource string, refID string) (map[string]any, error) {
	return s.GetByField(ctx, resource, "reference_id", refID)
}

// GetByID retrieves a single row by integer primary key.
func (s *Store) GetByID(ctx context.Context, resource string, id int64) (map[string]any, error) {
	return s.GetByField(ctx, resource, "id", id)
}

// GetByField retrieves the first row where field equals value.
func (s *Store) GetByField(ctx context.Context, resource, field string, value any) (map[string]any, error) {
	res, err := s.resource(resource)
	if err != nil {
		return nil, err
	}
	if !res.HasColumn(field) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, resource, field)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", selectColumns(res), resource, field)
	row := s.db.QueryRowxContext(ctx, s.db.Rebind(query), value)
	result := make(map[string]any)
	if err := row.MapScan(result); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s=%v: %w", resource, field, value, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", resource, err)
	}

	decodeRow(res, result)
	return result, nil
}

// List retrieves one page of rows matching the query, with the total count.
func (s *Store) List(ctx context.Context, resource string, q Query) (ListResult, error) {
	res, err := s.resource(resource)
	if err != nil {
		return ListResult{}, err
	}

	where, args, err := s.buildWhere(res, q.Filters, q.Search)
	if err != nil {
		return ListResult{}, err
	}
	orderBy, err := buildOrder(res, q.Sort)
	if err != nil {
		return ListResult{}, err
	}
	page := q.Page.Normalize()

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", resource, where)
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), args...); err != nil {
		return ListResult{}, fmt.Errorf("count %s: %w", resource, err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT %d OFFSET %d",
		selectColumns(res), resource, where, orderBy, page.Limit, page.Offset)

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", resource, err)
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return ListResult{}, fmt.Errorf("scan %s row: %w", resource, err)
		}
		decodeRow(res, row)
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", resource, err)
	}

	return ListResult{Rows: results, Total: total, Page: page}, nil
}

// Count returns the number of rows matching the filters.
func (s *Store) Count(ctx context.Context, resource string, filters ...Filter) (int, error) {
	res, err := s.resource(resource)
	if err != nil {
		return 0, err
	}
	where, args, err := s.buildWhere(res, filters, "")
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", resource, where)
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", resource, err)
	}
	return n, nil
}

// Update updates a row by reference_id. Only fields present in data are changed.
func (s *Store) Update(ctx context.Context, resource string, refID string, data map[string]any) (map[string]any, error) {
	res, err := s.resource(resource)
	if err != nil {
		return nil, err
	}
	data = maps.Clone(data)
	delete(data, "reference_id")
	delete(data, "id")
	delete(data, "created_at")
	delete(data, "updated_at")
	if err := checkKeys(res, data); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, err
	}

	if res.BeforeUpdate != nil {
		if err := res.BeforeUpdate(ctx, s, existing, data); err != nil {
			return nil, err
		}
	}

	if err := s.prepare(ctx, res, data); err != nil {
		return nil, err
	}

	// Computed fields are recomputed only when explicitly cleared.
	for _, f := range res.Fields {
		if v, present := data[f.Name]; present && f.Computed != nil && isEmpty(v) {
			merged := maps.Clone(existing)
			maps.Copy(merged, data)
			data[f.Name] = f.Computed(merged)
		}
	}

	if err := validate(res, data, true); err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return existing, nil
	}

	var sets []string
	var args []any
	for _, f := range res.Fields {
		if v, ok := data[f.Name]; ok {
			sets = append(sets, f.Name+" = ?")
			args = append(args, v)
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.Now(), refID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE reference_id = ?", resource, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, s.writeErr("update", resource, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}

	return s.Get(ctx, resource, refID)
}

// Delete removes a row by reference_id.
func (s *Store) Delete(ctx context.Context, resource string, refID string) error {
	res, err := s.resource(resource)
	if err != nil {
		return err
	}

	existing, err := s.Get(ctx, resource, refID)
	if err != nil {
		return err
	}
	if res.BeforeDelete != nil {
		if err := res.BeforeDelete(ctx, s, existing); err != nil {
			return err
		}
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE reference_id = ?", resource)), refID)
	if err != nil {
		return s.writeErr("delete", resource, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%s %s: %w", resource, refID, ErrNotFound)
	}
	return nil
}

// Toggle flips a declared boolean toggle field and returns the updated row.
// It goes through Update so BeforeUpdate hooks see the change.
func (s *Store) Toggle(ctx context.Context, resource, refID, field string) (map[string]any, error) {
	res, err := s.resource(resource)
	if err != nil {
		return nil, err
	}
	if !res.IsToggle(field) {
		return nil, fmt.Errorf("%w: %s is not a toggle of %s", ErrUnknownField, field, resource)
	}
	row, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, resource, refID, map[string]any{field: !Bool(row, field)})
}

// =============================================================================
// State Machine Transitions
// =============================================================================

// Transition moves a resource's state machine to a new state.
// Returns the updated row and the command name to dispatch (if any).
func (s *Store) Transition(ctx context.Context, resource string, refID string, toState string) (map[string]any, string, error) {
	return s.TransitionWith(ctx, resource, refID, toState, nil)
}

// TransitionWith is Transition that also writes the given fields in the same UPDATE.
// The update only applies if the row is still in the state it was read in.
func (s *Store) TransitionWith(ctx context.Context, resource, refID, toState string, changes map[string]any) (map[string]any, string, error) {
	res, err := s.resource(resource)
	if err != nil {
		return nil, "", err
	}
	if res.StateMachine == nil {
		return nil, "", fmt.Errorf("resource %s has no state machine", resource)
	}
	sm := res.StateMachine

	row, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, "", err
	}
	fromState := strVal(row[sm.Field])

	if !sm.CanTransition(fromState, toState) {
		return nil, "", fmt.Errorf("%w: %s → %s", ErrInvalidTransition, fromState, toState)
	}
	if guard, ok := sm.Guards[toState]; ok {
		if err := guard(row); err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrGuardFailed, err)
		}
	}

	changes = maps.Clone(changes)
	if changes == nil {
		changes = map[string]any{}
	}
	if err := checkKeys(res, changes); err != nil {
		return nil, "", err
	}
	changes[sm.Field] = toState
	if err := s.prepare(ctx, res, changes); err != nil {
		return nil, "", err
	}

	var sets []string
	var args []any
	for _, f := range res.Fields {
		if v, ok := changes[f.Name]; ok {
			sets = append(sets, f.Name+" = ?")
			args = append(args, v)
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.Now(), refID, fromState)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE reference_id = ? AND %s = ?", resource, strings.Join(sets, ", "), sm.Field)
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, "", fmt.Errorf("transition %s: %w", resource, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, "", fmt.Errorf("%w: %s %s is no longer %s", ErrInvalidTransition, resource, refID, fromState)
	}

	updated, err := s.Get(ctx, resource, refID)
	if err != nil {
		return nil, "", err
	}
	return updated, sm.OnEnter[toState], nil
}

// =============================================================================
// Raw access
// =============================================================================

// RawQuery executes a query written with ? placeholders and returns rows as maps.
func (s *Store) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// RawExec executes a statement written with ? placeholders.
func (s *Store) RawExec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

// WithTx executes fn within a database transaction.
// fn must only use tx; the store itself may hold the only connection.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// Helpers
// =============================================================================

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *Store) writeErr(op, resource string, err error) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s already exists with this value", ErrValidation, resource)
	case isForeignKeyViolation(err):
		if op == "delete" {
			return fmt.Errorf("%w: %s is still referenced", ErrConflict, resource)
		}
		return fmt.Errorf("%w: %s references a missing row", ErrValidation, resource)
	}
	return fmt.Errorf("%s %s: %w", op, resource, err)
}

func checkKeys(res *Resource, data map[string]any) error {
	for k := range data {
		if res.FieldByName(k) == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, res.Name, k)
		}
	}
	return nil
}

// selectColumns returns the SELECT column list for a resource.
func selectColumns(res *Resource) string {
	cols := []string{"id", "reference_id"}
	for _, f := range res.Fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, "created_at", "updated_at")
	return strings.Join(cols, ", ")
}

func (s *Store) buildWhere(res *Resource, filters []Filter, search string) (string, []any, error) {
	var where []string
	var args []any
	for _, f := range filters {
		if !res.HasColumn(f.Field) {
			return "", nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, res.Name, f.Field)
		}
		op := f.Op
		if op == "" {
			op = "="
		}
		if !slices.Contains(filterOps, op) {
			return "", nil, fmt.Errorf("%w: operator %q", ErrValidation, op)
		}
		field := res.FieldByName(f.Field)

		if op == "in" {
			values, err := filterValues(f.Value)
			if err != nil {
				return "", nil, err
			}
			if len(values) == 0 {
				where = append(where, "1 = 0")
				continue
			}
			for i, v := range values {
				if values[i], err = coerceFilter(field, v); err != nil {
					return "", nil, err
				}
			}
			where = append(where, fmt.Sprintf("%s IN (%s)", f.Field, placeholders(len(values))))
			args = append(args, values...)
			continue
		}

		v, err := coerceFilter(field, f.Value)
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			if op == "!=" {
				where = append(where, f.Field+" IS NOT NULL")
			} else {
				where = append(where, f.Field+" IS NULL")
			}
			continue
		}
		where = append(where, fmt.Sprintf("%s %s ?", f.Field, op))
		args = append(args, v)
	}

	if search = strings.TrimSpace(search); search != "" && len(res.Searchable) > 0 {
		var ors []string
		pattern := "%" + likeEscaper.Replace(search) + "%"
		for _, name := range res.Searchable {
			ors = append(ors, fmt.Sprintf(`%s %s ? ESCAPE '\'`, name, s.dialect.LikeOp()))
			args = append(args, pattern)
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	if len(where) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(where, " AND "), args, nil
}

// likeEscaper makes search text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func filterValues(v any) ([]any, error) {
	switch vals := v.(type) {
	case []any:
		return slices.Clone(vals), nil
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: in filter needs a list", ErrValidation)
}

func coerceFilter(field *Field, v any) (any, error) {
	if field == nil {
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
		return v, nil
	}
	if field.Type == TypeRef {
		// Filters on refs compare integer ids only.
		if str, ok := v.(string); ok {
			n, err := strconv.ParseInt(str, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be an id", ErrValidation, field.Name)
			}
			return n, nil
		}
	}
	return coerceValue(*field, v)
}

// buildOrder turns "field" or "-field" into an ORDER BY clause.
func buildOrder(res *Resource, sort string) (string, error) {
	if sort == "" {
		sort = res.DefaultSort
	}
	if sort == "" {
		return "id DESC", nil
	}
	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}
	if !res.HasColumn(field) {
		return "", fmt.Errorf("%w: cannot sort %s by %s", ErrUnknownField, res.Name, field)
	}
	if field == "id" {
		return "id " + dir, nil
	}
	return fmt.Sprintf("%s %s, id %s", field, dir, dir), nil
}

// prepare coerces values to their field types and resolves ref fields
// given as reference ids to integer ids.
func (s *Store) prepare(ctx context.Context, res *Resource, data map[string]any) error {
	for _, f := range res.Fields {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		if f.Type == TypeRef {
			if ref, isStr := v.(string); isStr && ref != "" {
				if _, err := strconv.ParseInt(ref, 10, 64); err != nil {
					id, err := s.resolveRef(ctx, f, ref)
					if err != nil {
						return err
					}
					data[f.Name] = id
					continue
				}
			}
		}
		cv, err := coerceValue(f, v)
		if err != nil {
			return err
		}
		data[f.Name] = cv
	}
	return nil
}

func (s *Store) resolveRef(ctx context.Context, f Field, refID string) (int64, error) {
	var id int64
	query := fmt.Sprintf("SELECT id FROM %s WHERE reference_id = ?", f.RefTable)
	if err := s.db.GetContext(ctx, &id, s.db.Rebind(query), refID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s: no %s %s", ErrValidation, f.Name, f.RefTable, refID)
		}
		return 0, fmt.Errorf("resolve %s: %w", f.Name, err)
	}
	return id, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp layouts accepted from clients and forms.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// coerceValue converts a client-supplied value to the Go type stored for the field.
func coerceValue(f Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	invalid := func() error {
		return fmt.Errorf("%w: %s must be a %s", ErrValidation, f.Name, f.Type)
	}

	switch f.Type {
	case TypeString, TypeText, TypeSoftRef:
		if str, ok := v.(string); ok {
			return str, nil
		}
		return fmt.Sprint(v), nil

	case TypeInt, TypeMoney, TypeRef:
		if str, ok := v.(string); ok {
			str = strings.TrimSpace(str)
			if str == "" {
				return nil, nil
			}
			n, err := strconv.ParseInt(str, 10, 64)
			if err != nil {
				return nil, invalid()
			}
			return n, nil
		}
		if fl, ok := v.(float64); ok && fl != math.Trunc(fl) {
			return nil, invalid()
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, invalid()

	case TypeFloat:
		switch val := v.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		case json.Number:
			fl, err := val.Float64()
			if err != nil {
				return nil, invalid()
			}
			return fl, nil
		case string:
			if strings.TrimSpace(val) == "" {
				return nil, nil
			}
			fl, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, invalid()
			}
			return fl, nil
		}
		if n, ok := toInt64(v); ok {
			return float64(n), nil
		}
		return nil, invalid()

	case TypeBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(val)) {
			case "true", "1", "on", "yes":
				return true, nil
			case "false", "0", "off", "no", "":
				return false, nil
			}
			return nil, invalid()
		}
		if n, ok := toInt64(v); ok {
			return n != 0, nil
		}
		return nil, invalid()

	case TypeTimestamp:
		switch val := v.(type) {
		case time.Time:
			if val.IsZero() {
				return nil, nil
			}
			return val.UTC(), nil
		case string:
			if strings.TrimSpace(val) == "" {
				return nil, nil
			}
			t, err := ParseTimestamp(val)
			if err != nil {
				return nil, invalid()
			}
			return t, nil
		}
		return nil, invalid()

	case TypeJSON:
		if str, ok := v.(string); ok {
			if !json.Valid([]byte(str)) {
				return nil, invalid()
			}
			return str, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrValidation, f.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// decodeRow converts driver types to Go types ([]byte → string, 0/1 → bool, JSON text → values).
func decodeRow(res *Resource, row map[string]any) {
	for key, val := range row {
		switch v := val.(type) {
		case []byte:
			row[key] = string(v)
		case time.Time:
			if v.IsZero() {
				row[key] = nil
			} else {
				row[key] = v.UTC()
			}
		}
	}

	for _, f := range res.Fields {
		v, ok := row[f.Name]
		if !ok || v == nil {
			continue
		}
		switch f.Type {
		case TypeBool:
			if n, ok := toInt64(v); ok {
				row[f.Name] = n != 0
			}
		case TypeJSON:
			if str, ok := v.(string); ok && str != "" {
				var parsed any
				if err := json.Unmarshal([]byte(str), &parsed); err == nil {
					row[f.Name] = parsed
				}
			}
		case TypeTimestamp:
			if str, ok := v.(string); ok {
				if t, err := ParseTimestamp(str); err == nil {
					row[f.Name] = t
				} else {
					row[f.Name] = nil
				}
			}
		}
	}
	for _, name := range []string{"created_at", "updated_at"} {
		if str, ok := row[name].(string); ok {
			if t, err := ParseTimestamp(str); err == nil {
				row[name] = t
			}
		}
	}
}

// validate checks field constraints. A partial validation only checks
// the fields present in data.
func validate(res *Resource, data map[string]any, partial bool) error {
	for _, f := range res.Fields {
		v, exists := data[f.Name]
		if partial && !exists {
			continue
		}

		if f.Required && isEmpty(v) {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.Name)
		}
		if v == nil {
			continue
		}

		if str, ok := v.(string); ok {
			if f.MinLen != nil && utf8.RuneCountInString(str) < *f.MinLen {
				return fmt.Errorf("%w: %s must be at least %d characters", ErrValidation, f.Name, *f.MinLen)
			}
			if f.MaxLen != nil && utf8.RuneCountInString(str) > *f.MaxLen {
				return fmt.Errorf("%w: %s must be at most %d characters", ErrValidation, f.Name, *f.MaxLen)
			}
			if f.Pattern != nil && str != "" && !f.Pattern.MatchString(str) {
				return fmt.Errorf("%w: %s has invalid format", ErrValidation, f.Name)
			}
			if len(f.Choices) > 0 && str != "" && !slices.Contains(f.Choices, str) {
				return fmt.Errorf("%w: %s must be one of %s", ErrValidation, f.Name, strings.Join(f.Choices, ", "))
			}
		}

		if f.MinInt != nil {
			if n, ok := toInt64(v); ok && n < *f.MinInt {
				return fmt.Errorf("%w: %s must be >= %d", ErrValidation, f.Name, *f.MinInt)
			}
		}
		if f.MaxInt != nil {
			if n, ok := toInt64(v); ok && n > *f.MaxInt {
				return fmt.Errorf("%w: %s must be <= %d", ErrValidation, f.Name, *f.MaxInt)
			}
		}
	}
	return nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// Int64 reads an integer column from a row.
func Int64(row map[string]any, key string) int64 {
	n, _ := toInt64(row[key])
	return n
}

// String reads a text column from a row.
func String(row map[string]any, key string) string {
	return strVal(row[key])
}

// Bool reads a boolean column from a row.
func Bool(row map[string]any, key string) bool {
	b, _ := row[key].(bool)
	return b
}

// Time reads a timestamp column from a row; the zero time if unset.
func Time(row map[string]any, key string) time.Time {
	t, _ := row[key].(time.Time)
	return t
}

func strVal(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return ""
}
