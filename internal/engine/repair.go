package engine

import (
	"context"
	"fmt"
	"strings"
)

// RepairAction is one change made (or planned) by RepairSchema.
type RepairAction struct {
	Resource string
	Kind     string // "add_column" or "backfill_slug"
	Detail   string
}

func (a RepairAction) String() string {
	return fmt.Sprintf("%s: %s %s", a.Resource, a.Kind, a.Detail)
}

// RepairSchema adds columns the schema declares but the tables lack and
// backfills empty slugs. With dryRun it only reports what it would do.
func (s *Store) RepairSchema(ctx context.Context, dryRun bool) ([]RepairAction, error) {
	var actions []RepairAction

	for _, res := range s.ordered {
		have, err := s.tableColumns(ctx, res.Name)
		if err != nil {
			return actions, err
		}
		if len(have) == 0 {
			// Missing table: created by the schema migrations on open.
			continue
		}

		var missing []string
		for _, f := range res.Fields {
			if !have[f.Name] {
				missing = append(missing, f.Name+" "+s.dialect.ColumnDef(f, true))
			}
		}
		for _, std := range []string{"created_at", "updated_at"} {
			if !have[std] {
				missing = append(missing, std+" "+s.dialect.ColumnType(TypeTimestamp))
			}
		}

		for _, col := range missing {
			actions = append(actions, RepairAction{Resource: res.Name, Kind: "add_column", Detail: col})
			if dryRun {
				continue
			}
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", res.Name, col)); err != nil {
				return actions, fmt.Errorf("add column %s.%s: %w", res.Name, col, err)
			}
		}

		slug := res.FieldByName("slug")
		if slug == nil || slug.Computed == nil || (dryRun && !have["slug"]) {
			continue
		}
		backfilled, err := s.backfillSlugs(ctx, res, slug, dryRun)
		actions = append(actions, backfilled...)
		if err != nil {
			return actions, err
		}
	}
	return actions, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, s.db.Rebind(s.dialect.ColumnsQuery()), table); err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[strings.ToLower(n)] = true
	}
	return cols, nil
}

func (s *Store) backfillSlugs(ctx context.Context, res *Resource, slug *Field, dryRun bool) ([]RepairAction, error) {
	rows, err := s.RawQuery(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE slug IS NULL OR slug = '' ORDER BY id", selectColumns(res), res.Name))
	if err != nil {
		return nil, fmt.Errorf("find empty slugs in %s: %w", res.Name, err)
	}

	var actions []RepairAction
	for _, row := range rows {
		decodeRow(res, row)
		value := strVal(slug.Computed(row))
		refID := strVal(row["reference_id"])
		actions = append(actions, RepairAction{Resource: res.Name, Kind: "backfill_slug", Detail: refID + " → " + value})
		if dryRun {
			continue
		}

		query := s.db.Rebind(fmt.Sprintf("UPDATE %s SET slug = ? WHERE reference_id = ?", res.Name))
		_, err := s.db.ExecContext(ctx, query, value, refID)
		if err != nil && isUniqueViolation(err) {
			value = value + "-" + refID[strings.LastIndex(refID, "_")+1:]
			actions[len(actions)-1].Detail = refID + " → " + value
			_, err = s.db.ExecContext(ctx, query, value, refID)
		}
		if err != nil {
			return actions, fmt.Errorf("backfill slug of %s %s: %w", res.Name, refID, err)
		}
	}
	return actions, nil
}
