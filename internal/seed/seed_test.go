package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/ringside/internal/engine"
)

const demoSeed = `
batch: demo
data:
  events:
    - title: Friday Night Fights
      venue_id: "@venues:rajadamnern-stadium"
      starts_at: 2026-11-07T19:30:00Z
      price_cents: "1,500.00"
      seats_total: 300
      published: true
  venues:
    - name: Rajadamnern Stadium
      city: Bangkok
      capacity: 8000
  fighters:
    - name: Rodtang Jitmuangnon
      nickname: The Iron Man
      weight_class: flyweight
      wins: 267
      featured: true
  courses:
    - title: Beginner Bootcamp
      venue_id: "@venues:rajadamnern-stadium"
      price_cents: 900000
      duration_days: 5
`

func setupStore(t *testing.T) *engine.Store {
	t.Helper()
	store, err := engine.OpenDB("sqlite3", ":memory:", engine.Schema(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(func() time.Time { return time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC) })
	return store
}

func count(t *testing.T, store *engine.Store, resource string) int {
	t.Helper()
	n, err := store.Count(context.Background(), resource)
	require.NoError(t, err)
	return n
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(demoSeed))
	require.NoError(t, err)
	assert.Equal(t, "demo", f.Batch)
	assert.Len(t, f.Data["venues"], 1)
	assert.Equal(t, "@venues:rajadamnern-stadium", f.Data["events"][0]["venue_id"])

	_, err = Parse([]byte("data:\n  venues: []\n"))
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = Parse([]byte("batch: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demoSeed), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", f.Batch)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeedAndUnseed(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	s := New(store, nil)

	f, err := Parse([]byte(demoSeed))
	require.NoError(t, err)

	result, err := s.Seed(ctx, f, false)
	require.NoError(t, err)
	require.Len(t, result.Records, 4)
	// Parents are inserted before the rows that reference them.
	assert.Equal(t, "venues", result.Records[0].Resource)
	assert.Equal(t, "Rajadamnern Stadium", result.Records[0].Title)

	venue, err := store.GetByField(ctx, "venues", "slug", "rajadamnern-stadium")
	require.NoError(t, err)
	evt, err := store.GetByField(ctx, "events", "slug", "friday-night-fights")
	require.NoError(t, err)
	assert.Equal(t, engine.Int64(venue, "id"), engine.Int64(evt, "venue_id"))
	assert.Equal(t, int64(150000), engine.Int64(evt, "price_cents"))
	assert.True(t, engine.Bool(evt, "published"))
	assert.Equal(t, time.Date(2026, 11, 7, 19, 30, 0, 0, time.UTC), engine.Time(evt, "starts_at"))

	batches, err := s.Batches(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"demo": 4}, batches)

	_, err = s.Seed(ctx, f, false)
	assert.ErrorIs(t, err, ErrBatchExists)

	result, err = s.Unseed(ctx, "demo", false)
	require.NoError(t, err)
	require.Len(t, result.Records, 4)
	assert.Equal(t, "venues", result.Records[3].Resource, "children are removed first")
	for _, resource := range []string{"venues", "events", "fighters", "courses"} {
		assert.Zero(t, count(t, store, resource), resource)
	}

	_, err = s.Unseed(ctx, "demo", false)
	assert.ErrorIs(t, err, ErrUnknownBatch)
}

func TestSeed_ReferencesExistingRows(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	_, err := store.Create(ctx, "venues", map[string]any{"name": "Lumpinee Stadium", "city": "Bangkok"})
	require.NoError(t, err)

	f, err := Parse([]byte(`
batch: lumpinee-cards
data:
  events:
    - title: Lumpinee Saturday
      venue_id: "@venues:lumpinee-stadium"
      starts_at: "2026-11-08 20:00"
      price_cents: 120000
`))
	require.NoError(t, err)

	_, err = New(store, nil).Seed(ctx, f, false)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, store, "events"))

	// Unseeding keeps rows the batch did not create.
	_, err = New(store, nil).Unseed(ctx, "lumpinee-cards", false)
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, store, "venues"))
	assert.Zero(t, count(t, store, "events"))
}

func TestSeed_AtSignInPlainFields(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	f, err := Parse([]byte(`
batch: socials
data:
  fighters:
    - name: Buakaw Banchamek
      nickname: "@buakaw_official"
  posts:
    - title: Fan Mail
      body: "@everyone thanks for coming out on Friday."
`))
	require.NoError(t, err)

	_, err = New(store, nil).Seed(ctx, f, false)
	require.NoError(t, err)

	fighter, err := store.GetByField(ctx, "fighters", "slug", "buakaw-banchamek")
	require.NoError(t, err)
	assert.Equal(t, "@buakaw_official", engine.String(fighter, "nickname"))

	post, err := store.GetByField(ctx, "posts", "slug", "fan-mail")
	require.NoError(t, err)
	assert.Equal(t, "@everyone thanks for coming out on Friday.", engine.String(post, "body"))
}

func TestSeed_DryRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	s := New(store, nil)

	f, err := Parse([]byte(demoSeed))
	require.NoError(t, err)

	result, err := s.Seed(ctx, f, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Records, 4)
	assert.Empty(t, result.Records[0].ReferenceID)
	assert.Zero(t, count(t, store, "venues"))
	assert.Zero(t, count(t, store, "events"))

	batches, err := s.Batches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestSeed_FailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  error
	}{
		{
			name: "unresolved reference",
			yaml: `
batch: broken
data:
  venues:
    - name: Omnoi Stadium
      city: Samut Sakhon
  events:
    - title: Nowhere Night
      venue_id: "@venues:nowhere"
      starts_at: 2026-11-07T19:30:00Z
      price_cents: 100
`,
			err: ErrBadReference,
		},
		{
			name: "unknown field",
			yaml: `
batch: broken
data:
  venues:
    - name: Omnoi Stadium
      city: Samut Sakhon
  fighters:
    - name: Ghost
      reach_cm: 180
`,
			err: engine.ErrUnknownField,
		},
		{
			name: "validation",
			yaml: `
batch: broken
data:
  venues:
    - name: Omnoi Stadium
      city: Samut Sakhon
    - name: No City Hall
`,
			err: engine.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupStore(t)
			ctx := context.Background()
			s := New(store, nil)

			f, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = s.Seed(ctx, f, false)
			assert.ErrorIs(t, err, tt.err)
			assert.Zero(t, count(t, store, "venues"))

			batches, err := s.Batches(ctx)
			require.NoError(t, err)
			assert.Empty(t, batches)
		})
	}
}

func TestSeed_UnknownResource(t *testing.T) {
	store := setupStore(t)
	f, err := Parse([]byte("batch: x\ndata:\n  gyms:\n    - name: Sitmonchai\n"))
	require.NoError(t, err)

	_, err = New(store, nil).Seed(context.Background(), f, false)
	assert.ErrorIs(t, err, engine.ErrUnknownResource)
}

func TestUnseed_DryRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	s := New(store, nil)

	f, err := Parse([]byte(demoSeed))
	require.NoError(t, err)
	_, err = s.Seed(ctx, f, false)
	require.NoError(t, err)

	result, err := s.Unseed(ctx, "demo", true)
	require.NoError(t, err)
	assert.Len(t, result.Records, 4)
	assert.Equal(t, 1, count(t, store, "venues"))

	batches, err := s.Batches(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), batches["demo"])
}
