package admin

import (
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
)

const (
	maxListColumns = 6
	dateTimeLayout = "2006-01-02T15:04"
)

var funcs = template.FuncMap{
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
	"money": domain.DisplayMoney,
	"add":   func(a, b int) int { return a + b },
}

// =============================================================================
// List view
// =============================================================================

type column struct {
	Name    string
	Label   string
	SortURL string
	Sorted  bool
	Desc    bool
}

type toggleButton struct {
	Field string
	Label string
	On    bool
}

type listRow struct {
	Ref         string
	Title       string
	Cells       []string
	Toggles     []toggleButton
	Transitions []string
}

type listView struct {
	Resource  string
	Label     string
	Columns   []column
	Rows      []listRow
	Search    string
	Total     int
	Page      int
	Pages     int
	PrevURL   string
	NextURL   string
	CanCreate bool
}

// listColumns picks the columns shown in a table: the title first, then short fields.
func listColumns(res *engine.Resource) []engine.Field {
	var cols []engine.Field
	if f := res.FieldByName(res.TitleField); f != nil {
		cols = append(cols, *f)
	}
	for _, f := range res.Fields {
		if len(cols) >= maxListColumns {
			break
		}
		if f.Name == res.TitleField || f.WriteOnly || f.Name == "slug" {
			continue
		}
		switch f.Type {
		case engine.TypeText, engine.TypeJSON:
			continue
		}
		if f.Upload {
			continue
		}
		cols = append(cols, f)
	}
	return cols
}

// listURL rebuilds the list URL with one query parameter changed.
func listURL(resource string, q url.Values, key, value string) string {
	next := url.Values{}
	for k, v := range q {
		next[k] = v
	}
	if value == "" {
		next.Del(key)
	} else {
		next.Set(key, value)
	}
	if key != "page" {
		next.Del("page")
	}
	if len(next) == 0 {
		return "/admin/" + resource
	}
	return "/admin/" + resource + "?" + next.Encode()
}

func buildColumns(res *engine.Resource, fields []engine.Field, q url.Values) []column {
	sort := q.Get("sort")
	cols := make([]column, 0, len(fields))
	for _, f := range fields {
		c := column{Name: f.Name, Label: f.DisplayLabel()}
		next := f.Name
		switch sort {
		case f.Name:
			c.Sorted = true
			next = "-" + f.Name
		case "-" + f.Name:
			c.Sorted = true
			c.Desc = true
		}
		c.SortURL = listURL(res.Name, q, "sort", next)
		cols = append(cols, c)
	}
	return cols
}

// refTitles maps the integer ids of a referenced table to row titles.
func (h *Handler) refTitles(ctx context.Context, table string) map[int64]string {
	res := h.store.Resource(table)
	if res == nil {
		return nil
	}
	result, err := h.store.List(ctx, table, engine.Query{Page: engine.Page{Limit: engine.MaxPageSize}})
	if err != nil {
		h.logger.Warn("failed to load references", "table", table, "error", err)
		return nil
	}
	titles := make(map[int64]string, len(result.Rows))
	for _, row := range result.Rows {
		titles[engine.Int64(row, "id")] = res.Title(row)
	}
	return titles
}

// formatCell renders a value for a table cell.
func formatCell(f engine.Field, row map[string]any, refs map[string]map[int64]string) string {
	v := row[f.Name]
	if v == nil {
		return ""
	}
	switch f.Type {
	case engine.TypeMoney:
		return domain.DisplayMoney(engine.Int64(row, f.Name), engine.String(row, "currency"))
	case engine.TypeBool:
		if engine.Bool(row, f.Name) {
			return "yes"
		}
		return "no"
	case engine.TypeTimestamp:
		if t := engine.Time(row, f.Name); !t.IsZero() {
			return t.Format("2006-01-02 15:04")
		}
		return ""
	case engine.TypeRef:
		id := engine.Int64(row, f.Name)
		if title, ok := refs[f.RefTable][id]; ok {
			return title
		}
		return strconv.FormatInt(id, 10)
	}
	return fmt.Sprint(v)
}

// =============================================================================
// Form view
// =============================================================================

type option struct {
	Value    string
	Label    string
	Selected bool
}

type formField struct {
	Name     string
	Label    string
	Help     string
	Kind     string // text, textarea, number, money, datetime, checkbox, select, upload
	Value    string
	Checked  bool
	Required bool
	Options  []option
}

type formView struct {
	Resource    string
	Label       string
	Ref         string // empty for a new row
	Action      string
	Fields      []formField
	Multipart   bool
	Status      string
	Transitions []string
}

// formFields builds the inputs for a resource. values holds either a stored row
// or the submitted form (strings) when re-displaying after an error.
func (h *Handler) formFields(ctx context.Context, res *engine.Resource, values map[string]any) []formField {
	var fields []formField
	for _, f := range res.Fields {
		if f.Internal {
			continue
		}
		ff := formField{
			Name:     f.Name,
			Label:    f.DisplayLabel(),
			Help:     f.Help,
			Required: f.Required && f.DefaultValue == nil,
			Value:    inputValue(f, values[f.Name]),
		}
		switch {
		case f.Upload:
			ff.Kind = "upload"
		case len(f.Choices) > 0:
			ff.Kind = "select"
			ff.Options = choiceOptions(f, ff.Value)
		case f.Type == engine.TypeRef:
			ff.Kind = "select"
			ff.Options = h.refOptions(ctx, f, values[f.Name])
		case f.Type == engine.TypeBool:
			ff.Kind = "checkbox"
			ff.Checked = isChecked(values[f.Name], f.DefaultValue)
		case f.Type == engine.TypeText || f.Type == engine.TypeJSON:
			ff.Kind = "textarea"
		case f.Type == engine.TypeInt || f.Type == engine.TypeFloat:
			ff.Kind = "number"
		case f.Type == engine.TypeMoney:
			ff.Kind = "money"
		case f.Type == engine.TypeTimestamp:
			ff.Kind = "datetime"
		default:
			ff.Kind = "text"
		}
		fields = append(fields, ff)
	}
	return fields
}

// inputValue renders a stored or submitted value for an input element.
func inputValue(f engine.Field, v any) string {
	switch val := v.(type) {
	case nil:
		if f.DefaultValue != nil && f.Type != engine.TypeBool {
			return inputValue(f, f.DefaultValue)
		}
		return ""
	case string:
		return val
	case time.Time:
		return val.Format(dateTimeLayout)
	case bool:
		return strconv.FormatBool(val)
	}
	if f.Type == engine.TypeMoney {
		var n int64
		switch val := v.(type) {
		case int64:
			n = val
		case int:
			n = int64(val)
		}
		return domain.FormatMinor(n)
	}
	return fmt.Sprint(v)
}

func isChecked(v, def any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "on" || val == "true" || val == "1"
	case nil:
		b, _ := def.(bool)
		return b
	}
	return false
}

func choiceOptions(f engine.Field, current string) []option {
	opts := make([]option, 0, len(f.Choices)+1)
	if !f.Required {
		opts = append(opts, option{Value: "", Label: "(none)"})
	}
	for _, c := range f.Choices {
		opts = append(opts, option{Value: c, Label: engine.Humanize(c), Selected: c == current})
	}
	return opts
}

// refOptions lists the rows of the referenced table. The current value is an
// integer id for stored rows and a reference id for submitted forms.
func (h *Handler) refOptions(ctx context.Context, f engine.Field, current any) []option {
	opts := []option{{Value: "", Label: "Select " + strings.ToLower(f.DisplayLabel())}}
	res := h.store.Resource(f.RefTable)
	if res == nil {
		return opts
	}
	result, err := h.store.List(ctx, f.RefTable, engine.Query{Page: engine.Page{Limit: engine.MaxPageSize}})
	if err != nil {
		h.logger.Warn("failed to load options", "table", f.RefTable, "error", err)
		return opts
	}
	currentID, _ := current.(int64)
	currentRef, _ := current.(string)
	for _, row := range result.Rows {
		ref := engine.String(row, "reference_id")
		opts = append(opts, option{
			Value:    ref,
			Label:    res.Title(row),
			Selected: (currentID != 0 && engine.Int64(row, "id") == currentID) || (currentRef != "" && ref == currentRef),
		})
	}
	return opts
}

// =============================================================================
// Dashboard view
// =============================================================================

type countItem struct {
	Name  string
	Label string
	Count int
}

type revenueItem struct {
	Currency string
	Amount   string
	Bookings int64
}

type bookingItem struct {
	Ref      string
	Customer string
	Item     string
	Amount   string
	Provider string
	Status   string
	Created  time.Time
}

type dashboardView struct {
	Counts   []countItem
	Revenue  []revenueItem
	Bookings []bookingItem
}
