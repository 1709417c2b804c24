// Package seed loads catalogue rows from YAML files and removes them again.
//
// A seed file names a batch and lists rows per resource:
//
//	batch: demo
//	data:
//	  venues:
//	    - name: Rajadamnern Stadium
//	      city: Bangkok
//	  events:
//	    - title: Friday Night Fights
//	      venue_id: "@venues:rajadamnern-stadium"
//	      starts_at: 2026-11-07T19:30:00Z
//	      price_cents: "1,500.00"
//
// Rows are inserted parents first. In a reference field the value "@resource:slug"
// is replaced by the reference id of that row, from this batch or already in the
// database. Other fields keep a leading "@" as text.
// Every inserted row is recorded in seed_records so Unseed can remove the batch.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/ringside/internal/core/domain"
	"github.com/artpar/ringside/internal/engine"
)

var (
	// ErrBatchExists is returned when seeding a batch name that is already recorded.
	ErrBatchExists = errors.New("seed batch already exists")

	// ErrUnknownBatch is returned when unseeding a batch with no records.
	ErrUnknownBatch = errors.New("unknown seed batch")

	// ErrBadReference is returned for an "@resource:slug" value that matches no row.
	ErrBadReference = errors.New("unresolved seed reference")
)

// File is a parsed seed file.
type File struct {
	Batch string                      `yaml:"batch"`
	Data  map[string][]map[string]any `yaml:"data"`
}

// Record is one row created (or planned) by a seed run.
type Record struct {
	Resource    string
	ReferenceID string
	Title       string
}

// Result reports what a Seed or Unseed run did.
type Result struct {
	Batch   string
	DryRun  bool
	Records []Record
}

// Parse decodes a seed file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	f.Batch = strings.TrimSpace(f.Batch)
	if f.Batch == "" {
		return nil, fmt.Errorf("%w: seed file needs a batch name", engine.ErrValidation)
	}
	return &f, nil
}

// Load reads and parses a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Seeder applies seed files to a store.
type Seeder struct {
	store  *engine.Store
	logger *slog.Logger
}

// New creates a seeder.
func New(store *engine.Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger.With("component", "seed")}
}

// Seed inserts the rows of f. If any row fails, the rows already inserted are
// deleted again. With dryRun nothing is written and references to rows of the
// same batch resolve to their planned slugs.
func (s *Seeder) Seed(ctx context.Context, f *File, dryRun bool) (Result, error) {
	result := Result{Batch: f.Batch, DryRun: dryRun}

	for name := range f.Data {
		if s.store.Resource(name) == nil {
			return result, fmt.Errorf("%w: %s", engine.ErrUnknownResource, name)
		}
	}
	n, err := s.recordCount(ctx, f.Batch)
	if err != nil {
		return result, err
	}
	if n > 0 {
		return result, fmt.Errorf("%w: %s", ErrBatchExists, f.Batch)
	}

	// "resource:slug" of rows in this batch → reference id
	created := make(map[string]string)

	for _, res := range s.store.Resources() {
		for i, raw := range f.Data[res.Name] {
			data, err := s.resolve(ctx, res, raw, created)
			if err != nil {
				s.rollback(ctx, f.Batch, result.Records, dryRun)
				return result, fmt.Errorf("%s[%d]: %w", res.Name, i, err)
			}

			if dryRun {
				slug := plannedSlug(res, data)
				created[res.Name+":"+slug] = "(" + slug + ")"
				result.Records = append(result.Records, Record{Resource: res.Name, Title: titleOf(res, data)})
				continue
			}

			row, err := s.store.Create(ctx, res.Name, data)
			if err != nil {
				s.rollback(ctx, f.Batch, result.Records, dryRun)
				return result, fmt.Errorf("%s[%d]: %w", res.Name, i, err)
			}
			rec := Record{Resource: res.Name, ReferenceID: engine.String(row, "reference_id"), Title: res.Title(row)}
			if slug := engine.String(row, "slug"); slug != "" {
				created[res.Name+":"+slug] = rec.ReferenceID
			}
			if _, err := s.store.RawExec(ctx,
				"INSERT INTO seed_records (batch, resource, reference_id, position, created_at) VALUES (?, ?, ?, ?, ?)",
				f.Batch, rec.Resource, rec.ReferenceID, len(result.Records), s.store.Now()); err != nil {
				result.Records = append(result.Records, rec)
				s.rollback(ctx, f.Batch, result.Records, dryRun)
				return result, fmt.Errorf("record seed row: %w", err)
			}
			result.Records = append(result.Records, rec)
		}
	}

	s.logger.Info("seed applied", "batch", f.Batch, "rows", len(result.Records), "dry_run", dryRun)
	return result, nil
}

// Unseed deletes the rows recorded for batch, newest first.
func (s *Seeder) Unseed(ctx context.Context, batch string, dryRun bool) (Result, error) {
	result := Result{Batch: batch, DryRun: dryRun}

	rows, err := s.store.RawQuery(ctx,
		"SELECT resource, reference_id FROM seed_records WHERE batch = ? ORDER BY position DESC", batch)
	if err != nil {
		return result, fmt.Errorf("load seed records: %w", err)
	}
	if len(rows) == 0 {
		return result, fmt.Errorf("%w: %s", ErrUnknownBatch, batch)
	}

	for _, rec := range rows {
		r := Record{Resource: engine.String(rec, "resource"), ReferenceID: engine.String(rec, "reference_id")}
		row, err := s.store.Get(ctx, r.Resource, r.ReferenceID)
		if errors.Is(err, engine.ErrNotFound) {
			s.logger.Warn("seeded row already gone", "resource", r.Resource, "ref", r.ReferenceID)
			continue
		}
		if err != nil {
			return result, err
		}
		if res := s.store.Resource(r.Resource); res != nil {
			r.Title = res.Title(row)
		}
		if !dryRun {
			if err := s.store.Delete(ctx, r.Resource, r.ReferenceID); err != nil {
				return result, fmt.Errorf("delete %s %s: %w", r.Resource, r.ReferenceID, err)
			}
		}
		result.Records = append(result.Records, r)
	}

	if !dryRun {
		if _, err := s.store.RawExec(ctx, "DELETE FROM seed_records WHERE batch = ?", batch); err != nil {
			return result, fmt.Errorf("clear seed records: %w", err)
		}
	}
	s.logger.Info("seed removed", "batch", batch, "rows", len(result.Records), "dry_run", dryRun)
	return result, nil
}

// Batches lists the recorded batch names with their row counts.
func (s *Seeder) Batches(ctx context.Context) (map[string]int64, error) {
	rows, err := s.store.RawQuery(ctx, "SELECT batch, COUNT(*) AS n FROM seed_records GROUP BY batch")
	if err != nil {
		return nil, fmt.Errorf("list seed batches: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[engine.String(row, "batch")] = engine.Int64(row, "n")
	}
	return out, nil
}

func (s *Seeder) recordCount(ctx context.Context, batch string) (int64, error) {
	rows, err := s.store.RawQuery(ctx, "SELECT COUNT(*) AS n FROM seed_records WHERE batch = ?", batch)
	if err != nil {
		return 0, fmt.Errorf("count seed records: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return engine.Int64(rows[0], "n"), nil
}

// resolve replaces references and converts money strings to minor units.
func (s *Seeder) resolve(ctx context.Context, res *engine.Resource, raw map[string]any, created map[string]string) (map[string]any, error) {
	data := make(map[string]any, len(raw))
	for key, v := range raw {
		f := res.FieldByName(key)
		if f == nil {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownField, key)
		}
		if str, ok := v.(string); ok {
			target, isRef := strings.CutPrefix(str, "@")
			switch {
			case isRef && (f.Type == engine.TypeRef || f.Type == engine.TypeSoftRef):
				ref, err := s.lookup(ctx, target, created)
				if err != nil {
					return nil, err
				}
				v = ref
			case f.Type == engine.TypeMoney:
				n, err := domain.ParseMoney(str)
				if err != nil {
					return nil, fmt.Errorf("%w: %s: %v", engine.ErrValidation, key, err)
				}
				v = n
			}
		}
		data[key] = v
	}
	return data, nil
}

// lookup resolves "resource:slug" to a reference id.
func (s *Seeder) lookup(ctx context.Context, target string, created map[string]string) (string, error) {
	if ref, ok := created[target]; ok {
		return ref, nil
	}
	resource, slug, ok := strings.Cut(target, ":")
	if !ok || slug == "" {
		return "", fmt.Errorf("%w: @%s", ErrBadReference, target)
	}
	res := s.store.Resource(resource)
	if res == nil || !res.HasColumn("slug") {
		return "", fmt.Errorf("%w: @%s", ErrBadReference, target)
	}
	row, err := s.store.GetByField(ctx, resource, "slug", slug)
	if errors.Is(err, engine.ErrNotFound) {
		return "", fmt.Errorf("%w: @%s", ErrBadReference, target)
	}
	if err != nil {
		return "", err
	}
	return engine.String(row, "reference_id"), nil
}

// rollback deletes rows inserted by a failed run, newest first.
func (s *Seeder) rollback(ctx context.Context, batch string, records []Record, dryRun bool) {
	if dryRun || len(records) == 0 {
		return
	}
	for _, rec := range slices.Backward(records) {
		if err := s.store.Delete(ctx, rec.Resource, rec.ReferenceID); err != nil && !errors.Is(err, engine.ErrNotFound) {
			s.logger.Error("failed to roll back seeded row", "resource", rec.Resource, "ref", rec.ReferenceID, "error", err)
		}
	}
	if _, err := s.store.RawExec(ctx, "DELETE FROM seed_records WHERE batch = ?", batch); err != nil {
		s.logger.Error("failed to clear seed records", "batch", batch, "error", err)
	}
	s.logger.Warn("seed rolled back", "batch", batch, "rows", len(records))
}

func plannedSlug(res *engine.Resource, data map[string]any) string {
	if slug := domain.Slugify(fmt.Sprint(data["slug"])); data["slug"] != nil && slug != "" {
		return slug
	}
	return domain.Slugify(fmt.Sprint(data[res.TitleField]))
}

func titleOf(res *engine.Resource, data map[string]any) string {
	if v, ok := data[res.TitleField]; ok {
		return fmt.Sprint(v)
	}
	return res.DisplayLabel()
}
