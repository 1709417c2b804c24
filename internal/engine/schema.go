// Package engine provides a schema-driven CRUD engine.
// Resources are defined as data (schema), and the engine interprets them
// to provide a generic store, a JSON:API surface, state machine enforcement,
// admin form metadata, and migrations.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// FieldType represents the SQL/Go type of a field.
type FieldType int

const (
	TypeString    FieldType = iota // TEXT
	TypeText                       // TEXT (large)
	TypeInt                        // INTEGER
	TypeMoney                      // INTEGER, minor units
	TypeFloat                      // REAL
	TypeBool                       // INTEGER (0/1) or BOOLEAN
	TypeJSON                       // TEXT (JSON-encoded)
	TypeTimestamp                  // DATETIME or TIMESTAMPTZ
	TypeRef                        // INTEGER (FK to another entity)
	TypeSoftRef                    // TEXT (reference_id of another entity, not a FK)
)

var fieldTypeNames = map[FieldType]string{
	TypeString:    "string",
	TypeText:      "text",
	TypeInt:       "int",
	TypeMoney:     "money",
	TypeFloat:     "float",
	TypeBool:      "bool",
	TypeJSON:      "json",
	TypeTimestamp: "timestamp",
	TypeRef:       "ref",
	TypeSoftRef:   "softref",
}

func (ft FieldType) String() string {
	if n, ok := fieldTypeNames[ft]; ok {
		return n
	}
	return "unknown"
}

// IsInteger reports whether values of this type are stored as integers.
func (ft FieldType) IsInteger() bool {
	return ft == TypeInt || ft == TypeMoney || ft == TypeRef
}

// Field defines a single column in a resource.
type Field struct {
	Name         string
	Type         FieldType
	Required     bool
	Unique       bool
	Nullable     bool
	DefaultValue any // nil means no default
	MinInt       *int64
	MaxInt       *int64
	MinLen       *int
	MaxLen       *int
	Pattern      *regexp.Regexp
	RefTable     string // For TypeRef/TypeSoftRef: target table name
	Computed     func(row map[string]any) any
	WriteOnly    bool // never included in responses
	Internal     bool // not settable from the API or admin forms

	// Presentation
	Choices []string // enumerated values, rendered as a select
	Upload  bool     // value is a media URL produced from an uploaded file
	Label   string
	Help    string
}

// DisplayLabel returns the label shown in forms and table headers.
func (f Field) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	return Humanize(f.Name)
}

// GuardFunc checks whether a state transition is allowed given the current row.
type GuardFunc func(row map[string]any) error

// StateMachine defines a state machine on a string field.
type StateMachine struct {
	Field       string               // The column that holds the state
	Initial     string               // Default state on create
	Transitions map[string][]string  // from → []to
	Guards      map[string]GuardFunc // to-state → guard
	OnEnter     map[string]string    // to-state → command name
}

// CanTransition checks if transitioning from → to is allowed.
func (sm *StateMachine) CanTransition(from, to string) bool {
	return slices.Contains(sm.Transitions[from], to)
}

// NextStates returns the states reachable from the given state.
func (sm *StateMachine) NextStates(from string) []string {
	return sm.Transitions[from]
}

// AllStates returns all unique states in the state machine, initial state first.
func (sm *StateMachine) AllStates() []string {
	seen := map[string]bool{}
	var states []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			states = append(states, s)
		}
	}
	if sm.Initial != "" {
		add(sm.Initial)
	}
	from := make([]string, 0, len(sm.Transitions))
	for k := range sm.Transitions {
		from = append(from, k)
	}
	slices.Sort(from)
	for _, f := range from {
		add(f)
		for _, to := range sm.Transitions[f] {
			add(to)
		}
	}
	return states
}

// BeforeCreateFunc is called before a row is inserted. It can modify the data.
type BeforeCreateFunc func(ctx context.Context, s *Store, data map[string]any) error

// BeforeUpdateFunc is called before a row is updated with the current row and the changes.
type BeforeUpdateFunc func(ctx context.Context, s *Store, existing, changes map[string]any) error

// BeforeDeleteFunc is called before deleting a row. It can return an error to prevent deletion.
type BeforeDeleteFunc func(ctx context.Context, s *Store, row map[string]any) error

// Resource defines a complete entity.
type Resource struct {
	Name         string // table name, e.g., "events"
	RefPrefix    string // prefix for reference_id, e.g., "evt_"
	Label        string // singular display name, e.g., "Event"
	Fields       []Field
	StateMachine *StateMachine

	Toggles     []string // bool fields that may be flipped in place
	Searchable  []string // fields matched by free-text search
	DefaultSort string   // "field" or "-field"
	TitleField  string   // field used as the row's display title

	// PublicRead allows anonymous reads, restricted to rows matching PublicFilters.
	PublicRead    bool
	PublicFilters []Filter

	BeforeCreate BeforeCreateFunc
	BeforeUpdate BeforeUpdateFunc
	BeforeDelete BeforeDeleteFunc
}

// FieldByName returns a field by name, or nil if not found.
func (r *Resource) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// HasColumn reports whether name is a column of the resource table.
func (r *Resource) HasColumn(name string) bool {
	switch name {
	case "id", "reference_id", "created_at", "updated_at":
		return true
	}
	return r.FieldByName(name) != nil
}

// IsToggle reports whether the field is declared as a toggle.
func (r *Resource) IsToggle(name string) bool {
	return slices.Contains(r.Toggles, name)
}

// DisplayLabel returns the singular display name.
func (r *Resource) DisplayLabel() string {
	if r.Label != "" {
		return r.Label
	}
	return Humanize(strings.TrimSuffix(r.Name, "s"))
}

// Title returns the display title of a row.
func (r *Resource) Title(row map[string]any) string {
	if r.TitleField != "" {
		if t := strVal(row[r.TitleField]); t != "" {
			return t
		}
	}
	return strVal(row["reference_id"])
}

// Humanize turns a column name into a label: "price_cents" → "Price cents".
func Humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// =============================================================================
// Field builder helpers
// =============================================================================

func StringField(name string) Field {
	return Field{Name: name, Type: TypeString}
}

func TextField(name string) Field {
	return Field{Name: name, Type: TypeText}
}

func IntField(name string) Field {
	return Field{Name: name, Type: TypeInt}
}

func MoneyField(name string) Field {
	return Field{Name: name, Type: TypeMoney}
}

func FloatField(name string) Field {
	return Field{Name: name, Type: TypeFloat}
}

func BoolField(name string) Field {
	return Field{Name: name, Type: TypeBool, DefaultValue: false}
}

func JSONField(name string) Field {
	return Field{Name: name, Type: TypeJSON, Nullable: true}
}

func TimestampField(name string) Field {
	return Field{Name: name, Type: TypeTimestamp, Nullable: true}
}

func RefField(name, table string) Field {
	return Field{Name: name, Type: TypeRef, RefTable: table}
}

func SoftRefField(name, table string) Field {
	return Field{Name: name, Type: TypeSoftRef, RefTable: table, Nullable: true}
}

// WithRequired returns a copy of the field with Required=true.
func (f Field) WithRequired() Field { f.Required = true; return f }

// WithUnique returns a copy of the field with Unique=true.
func (f Field) WithUnique() Field { f.Unique = true; return f }

// WithNullable returns a copy of the field with Nullable=true.
func (f Field) WithNullable() Field { f.Nullable = true; return f }

// WithDefault returns a copy of the field with DefaultValue set.
func (f Field) WithDefault(v any) Field { f.DefaultValue = v; return f }

// WithMin returns a copy of the field with minimum constraint.
func (f Field) WithMin(n int64) Field { f.MinInt = &n; return f }

// WithMax returns a copy of the field with maximum constraint.
func (f Field) WithMax(n int64) Field { f.MaxInt = &n; return f }

// WithMinLen returns a copy of the field with minimum length.
func (f Field) WithMinLen(n int) Field { f.MinLen = &n; return f }

// WithMaxLen returns a copy of the field with maximum length.
func (f Field) WithMaxLen(n int) Field { f.MaxLen = &n; return f }

// WithPattern returns a copy of the field with a regex pattern.
func (f Field) WithPattern(pattern string) Field {
	f.Pattern = regexp.MustCompile(pattern)
	return f
}

// WithComputed returns a copy of the field with a computed function.
func (f Field) WithComputed(fn func(row map[string]any) any) Field {
	f.Computed = fn
	return f
}

// WithWriteOnly marks the field as write-only (never in responses).
func (f Field) WithWriteOnly() Field { f.WriteOnly = true; return f }

// WithInternal marks the field as internal (set by the system only).
func (f Field) WithInternal() Field { f.Internal = true; return f }

// WithChoices restricts the field to the given values.
func (f Field) WithChoices(choices ...string) Field { f.Choices = choices; return f }

// WithUpload marks the field as an uploaded image URL.
func (f Field) WithUpload() Field { f.Upload = true; f.Nullable = true; return f }

// WithLabel sets the display label.
func (f Field) WithLabel(label string) Field { f.Label = label; return f }

// WithHelp sets the help text shown under the form input.
func (f Field) WithHelp(help string) Field { f.Help = help; return f }

// =============================================================================
// Guard helpers
// =============================================================================

// RequireField returns a guard that ensures a field is non-empty.
func RequireField(fieldName string) GuardFunc {
	return func(row map[string]any) error {
		v, ok := row[fieldName]
		if !ok || v == nil || v == "" || v == 0 || v == int64(0) {
			return fmt.Errorf("%s is required for this transition", fieldName)
		}
		return nil
	}
}

// =============================================================================
// Migration generation
// =============================================================================

// GenerateCreateSQL generates CREATE TABLE and CREATE INDEX statements for this resource.
func (r *Resource) GenerateCreateSQL(d Dialect) []string {
	var cols []string

	cols = append(cols, "id "+d.PrimaryKey())
	cols = append(cols, "reference_id TEXT UNIQUE NOT NULL")

	for _, f := range r.Fields {
		cols = append(cols, f.Name+" "+d.ColumnDef(f, false))
	}

	cols = append(cols, "created_at "+d.ColumnType(TypeTimestamp)+" NOT NULL DEFAULT "+d.NowExpr())
	cols = append(cols, "updated_at "+d.ColumnType(TypeTimestamp)+" NOT NULL DEFAULT "+d.NowExpr())

	for _, f := range r.Fields {
		if f.Type == TypeRef && f.RefTable != "" {
			cols = append(cols, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", f.Name, f.RefTable))
		}
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", r.Name, strings.Join(cols, ",\n  ")),
	}

	for _, f := range r.Fields {
		if f.Type == TypeRef || f.Type == TypeSoftRef {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", r.Name, f.Name, r.Name, f.Name))
		}
	}
	if r.StateMachine != nil {
		sf := r.StateMachine.Field
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s, created_at)", r.Name, sf, r.Name, sf))
	}

	return stmts
}
