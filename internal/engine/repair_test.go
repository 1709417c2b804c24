package engine

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupOutdatedStore opens a database whose venues table predates the
// province and capacity columns, and returns a store over the current schema.
func setupOutdatedStore(t *testing.T) *Store {
	t.Helper()
	old := VenueResource()
	old.Fields = slices.DeleteFunc(slices.Clone(old.Fields), func(f Field) bool {
		return f.Name == "province" || f.Name == "capacity"
	})
	oldStore, err := OpenDB("sqlite3", ":memory:", []Resource{old}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { oldStore.Close() })

	store, err := NewStore(oldStore.DB(), Schema())
	require.NoError(t, err)
	return store
}

func TestRepairSchema_AddsMissingColumns(t *testing.T) {
	s := setupOutdatedStore(t)
	ctx := context.Background()

	actions, err := s.RepairSchema(ctx, true)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "add_column", actions[0].Kind)
	assert.Contains(t, actions[0].Detail, "province")
	assert.Contains(t, actions[1].Detail, "capacity INTEGER NOT NULL DEFAULT 0")

	cols, err := s.tableColumns(ctx, "venues")
	require.NoError(t, err)
	assert.False(t, cols["province"], "dry run changes nothing")

	_, err = s.RepairSchema(ctx, false)
	require.NoError(t, err)

	cols, err = s.tableColumns(ctx, "venues")
	require.NoError(t, err)
	assert.True(t, cols["province"])
	assert.True(t, cols["capacity"])

	venue := createVenue(t, s, "Omnoi")
	assert.Equal(t, int64(0), venue["capacity"])

	actions, err = s.RepairSchema(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, actions, "repair is idempotent")
}

func TestRepairSchema_BackfillsSlugs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	taken := createVenue(t, s, "Lumpinee")

	_, err := s.RawExec(ctx, "INSERT INTO venues (reference_id, name, city, slug, active, capacity, created_at, updated_at) VALUES (?, ?, ?, NULL, 1, 0, ?, ?)",
		"ven_0000aaaa", "Rajadamnern Stadium", "Bangkok", s.Now(), s.Now())
	require.NoError(t, err)
	_, err = s.RawExec(ctx, "INSERT INTO venues (reference_id, name, city, slug, active, capacity, created_at, updated_at) VALUES (?, ?, ?, '', 1, 0, ?, ?)",
		"ven_0000bbbb", "Lumpinee", "Bangkok", s.Now(), s.Now())
	require.NoError(t, err)

	actions, err := s.RepairSchema(ctx, true)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	row, err := s.Get(ctx, "venues", "ven_0000aaaa")
	require.NoError(t, err)
	assert.Nil(t, row["slug"])

	actions, err = s.RepairSchema(ctx, false)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, "backfill_slug", a.Kind)
	}

	row, err = s.Get(ctx, "venues", "ven_0000aaaa")
	require.NoError(t, err)
	assert.Equal(t, "rajadamnern-stadium", row["slug"])

	row, err = s.Get(ctx, "venues", "ven_0000bbbb")
	require.NoError(t, err)
	assert.Equal(t, "lumpinee-0000bbbb", row["slug"], "collisions get the reference suffix")
	assert.Equal(t, "lumpinee", taken["slug"])
}

func TestRepairAction_String(t *testing.T) {
	a := RepairAction{Resource: "venues", Kind: "add_column", Detail: "province TEXT"}
	assert.Equal(t, "venues: add_column province TEXT", a.String())
}
