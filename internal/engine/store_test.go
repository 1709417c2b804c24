package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenDB("sqlite3", ":memory:", Schema(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createVenue(t *testing.T, s *Store, name string) map[string]any {
	t.Helper()
	row, err := s.Create(context.Background(), "venues", map[string]any{
		"name": name,
		"city": "Bangkok",
	})
	require.NoError(t, err)
	return row
}

func createEvent(t *testing.T, s *Store, venue map[string]any, title string, published bool) map[string]any {
	t.Helper()
	row, err := s.Create(context.Background(), "events", map[string]any{
		"title":       title,
		"venue_id":    venue["reference_id"],
		"starts_at":   "2026-11-07T19:30",
		"price_cents": int64(150000),
		"seats_total": int64(100),
		"published":   published,
	})
	require.NoError(t, err)
	return row
}

func createBooking(t *testing.T, s *Store, event map[string]any, quantity int64) map[string]any {
	t.Helper()
	row, err := s.Create(context.Background(), "bookings", map[string]any{
		"item_type":      "event",
		"item_id":        event["reference_id"],
		"item_title":     event["title"],
		"quantity":       quantity,
		"customer_name":  "Somchai P.",
		"customer_email": "somchai@example.com",
		"amount_cents":   Int64(event, "price_cents") * quantity,
		"currency":       "THB",
		"provider":       "chillpay",
	})
	require.NoError(t, err)
	return row
}

// =============================================================================
// Create / Get
// =============================================================================

func TestCreate_DefaultsAndComputedSlug(t *testing.T) {
	s := setupTestStore(t)

	venue := createVenue(t, s, "Rajadamnern Stadium")

	assert.Regexp(t, `^ven_[0-9a-f]{8}$`, venue["reference_id"])
	assert.Equal(t, "rajadamnern-stadium", venue["slug"])
	assert.Equal(t, true, venue["active"])
	assert.Equal(t, int64(0), venue["capacity"])
	assert.IsType(t, time.Time{}, venue["created_at"])
}

func TestCreate_ExplicitSlugIsKept(t *testing.T) {
	s := setupTestStore(t)

	row, err := s.Create(context.Background(), "venues", map[string]any{
		"name": "Lumpinee Boxing Stadium",
		"slug": "Lumpinee",
		"city": "Bangkok",
	})
	require.NoError(t, err)
	assert.Equal(t, "lumpinee", row["slug"])
}

func TestCreate_ThaiTitleFallsBackToReferenceID(t *testing.T) {
	s := setupTestStore(t)

	row, err := s.Create(context.Background(), "venues", map[string]any{
		"name": "สนามมวยราชดำเนิน",
		"city": "กรุงเทพ",
	})
	require.NoError(t, err)
	assert.Equal(t, row["reference_id"], row["slug"])
}

func TestCreate_ResolvesRefByReferenceID(t *testing.T) {
	s := setupTestStore(t)
	venue := createVenue(t, s, "Patong Boxing Stadium")

	event := createEvent(t, s, venue, "Phuket Fight Night", true)

	assert.Equal(t, venue["id"], event["venue_id"])
	assert.Equal(t, time.Date(2026, 11, 7, 19, 30, 0, 0, time.UTC), event["starts_at"])
	assert.Equal(t, "THB", event["currency"])
	assert.Equal(t, int64(0), event["seats_sold"])
}

func TestCreate_UnknownRefIsValidationError(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Create(context.Background(), "events", map[string]any{
		"title":       "Ghost Card",
		"venue_id":    "ven_missing0",
		"starts_at":   "2026-11-07",
		"price_cents": 1000,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		resource string
		data     map[string]any
		wantErr  error
	}{
		{"missing required", "venues", map[string]any{"name": "No City"}, ErrValidation},
		{"below minimum", "venues", map[string]any{"name": "V", "city": "C", "capacity": -1}, ErrValidation},
		{"bad choice", "fighters", map[string]any{"name": "F", "weight_class": "cruiserweight"}, ErrValidation},
		{"bad pattern", "products", map[string]any{"name": "Gloves", "sku": "gloves 10oz", "price_cents": 100}, ErrValidation},
		{"not a number", "venues", map[string]any{"name": "V", "city": "C", "capacity": "lots"}, ErrValidation},
		{"unknown column", "venues", map[string]any{"name": "V", "city": "C", "owner": "me"}, ErrUnknownField},
		{"unknown resource", "stadiums", map[string]any{"name": "V"}, ErrUnknownResource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.resource, tt.data)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreate_DuplicateSlugIsValidationError(t *testing.T) {
	s := setupTestStore(t)
	createVenue(t, s, "Lumpinee")

	_, err := s.Create(context.Background(), "venues", map[string]any{"name": "Lumpinee", "city": "Bangkok"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGet_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "venues", "ven_nothere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetByField(context.Background(), "venues", "owner", "x")
	assert.ErrorIs(t, err, ErrUnknownField)
}

// =============================================================================
// List
// =============================================================================

func TestList_FilterSearchSortAndPage(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Omnoi Stadium", "Lumpinee Stadium", "Max Muay Thai", "Channel 7 Stadium"} {
		createVenue(t, s, name)
	}
	_, err := s.Create(ctx, "venues", map[string]any{"name": "Patong Stadium", "city": "Phuket"})
	require.NoError(t, err)

	result, err := s.List(ctx, "venues", Query{Filters: []Filter{Eq("city", "Bangkok")}})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, "Channel 7 Stadium", result.Rows[0]["name"], "default sort is by name")

	result, err = s.List(ctx, "venues", Query{Search: "stadium", Sort: "-name"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, "Patong Stadium", result.Rows[0]["name"])

	result, err = s.List(ctx, "venues", Query{Sort: "name", Page: Page{Limit: 2, Offset: 2}})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Total, "total ignores pagination")
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Max Muay Thai", result.Rows[0]["name"])
	assert.Equal(t, 2, result.Page.Number())

	result, err = s.List(ctx, "venues", Query{Filters: []Filter{{Field: "city", Op: "in", Value: []string{"Phuket", "Chiang Mai"}}}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestList_SearchMatchesWildcardsLiterally(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"Rangsit 100% Gym", "Rangsit 1000 Arena", "Sor_Sommai Camp", "SorXSommai Hall"} {
		createVenue(t, s, name)
	}

	result, err := s.List(ctx, "venues", Query{Search: "100%"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "Rangsit 100% Gym", result.Rows[0]["name"])

	result, err = s.List(ctx, "venues", Query{Search: "sor_"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "Sor_Sommai Camp", result.Rows[0]["name"])

	result, err = s.List(ctx, "venues", Query{Search: "%"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestCreate_LengthLimitsCountCharacters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// 50 Thai characters are 150 bytes.
	venue, err := s.Create(ctx, "venues", map[string]any{"name": strings.Repeat("ก", 50), "city": "กรุงเทพ"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ก", 50), venue["name"])

	_, err = s.Create(ctx, "venues", map[string]any{"name": strings.Repeat("ก", 121), "city": "กรุงเทพ"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "name must be at most 120 characters")

	_, err = s.Create(ctx, "posts", map[string]any{
		"title":   "ศึกมวยไทย",
		"excerpt": strings.Repeat("ม", 140),
		"body":    "เนื้อหา",
	})
	require.NoError(t, err)
}

func TestList_RejectsUnknownColumns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.List(ctx, "venues", Query{Sort: "name; DROP TABLE venues"})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.List(ctx, "venues", Query{Filters: []Filter{Eq("1=1 OR name", "x")}})
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = s.List(ctx, "venues", Query{Filters: []Filter{{Field: "name", Op: "LIKE", Value: "%"}}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestList_EmptyResultIsNotNil(t *testing.T) {
	s := setupTestStore(t)

	result, err := s.List(context.Background(), "posts", Query{})
	require.NoError(t, err)
	assert.NotNil(t, result.Rows)
	assert.Equal(t, 0, result.Total)
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: DefaultPageSize}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: MaxPageSize}, Page{Limit: 10000}.Normalize())
	assert.Equal(t, Page{Limit: 10}, Page{Limit: 10, Offset: -5}.Normalize())
	assert.Equal(t, 3, Page{Limit: 10, Offset: 20}.Number())
}

func TestCount(t *testing.T) {
	s := setupTestStore(t)
	venue := createVenue(t, s, "Omnoi")
	createEvent(t, s, venue, "Saturday Card", true)
	createEvent(t, s, venue, "Sunday Card", false)

	n, err := s.Count(context.Background(), "events", Eq("published", true))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Count(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// =============================================================================
// Update / Delete / Toggle
// =============================================================================

func TestUpdate_PartialChanges(t *testing.T) {
	s := setupTestStore(t)
	venue := createVenue(t, s, "Old Name")
	ref := venue["reference_id"].(string)

	updated, err := s.Update(context.Background(), "venues", ref, map[string]any{
		"capacity":     "5000",
		"reference_id": "ven_hijacked",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), updated["capacity"])
	assert.Equal(t, ref, updated["reference_id"])
	assert.Equal(t, "old-name", updated["slug"], "slug is kept unless cleared")

	updated, err = s.Update(context.Background(), "venues", ref, map[string]any{"name": "New Name", "slug": ""})
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated["slug"])

	_, err = s.Update(context.Background(), "venues", ref, map[string]any{"city": ""})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelete_RefusedWhileReferenced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	venue := createVenue(t, s, "Omnoi")
	event := createEvent(t, s, venue, "Card", true)

	err := s.Delete(ctx, "venues", venue["reference_id"].(string))
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, s.Delete(ctx, "events", event["reference_id"].(string)))
	require.NoError(t, s.Delete(ctx, "venues", venue["reference_id"].(string)))

	_, err = s.Get(ctx, "venues", venue["reference_id"].(string))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToggle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	venue := createVenue(t, s, "Omnoi")
	ref := venue["reference_id"].(string)

	row, err := s.Toggle(ctx, "venues", ref, "active")
	require.NoError(t, err)
	assert.Equal(t, false, row["active"])

	row, err = s.Toggle(ctx, "venues", ref, "active")
	require.NoError(t, err)
	assert.Equal(t, true, row["active"])

	_, err = s.Toggle(ctx, "venues", ref, "capacity")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestToggle_PublishingPostStampsPublishedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	post, err := s.Create(ctx, "posts", map[string]any{"title": "Fight Week", "body": "..."})
	require.NoError(t, err)
	assert.Nil(t, post["published_at"])

	row, err := s.Toggle(ctx, "posts", post["reference_id"].(string), "published")
	require.NoError(t, err)
	assert.Equal(t, fixed, row["published_at"])

	s.SetClock(func() time.Time { return fixed.Add(time.Hour) })
	row, err = s.Toggle(ctx, "posts", post["reference_id"].(string), "published")
	require.NoError(t, err)
	row, err = s.Toggle(ctx, "posts", post["reference_id"].(string), "published")
	require.NoError(t, err)
	assert.Equal(t, fixed, row["published_at"], "republishing keeps the first date")
}

// =============================================================================
// Transitions
// =============================================================================

func TestTransition_BookingLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	event := createEvent(t, s, createVenue(t, s, "Omnoi"), "Card", true)
	booking := createBooking(t, s, event, 2)
	ref := booking["reference_id"].(string)

	assert.Regexp(t, `^bk_[0-9a-f]{8}$`, ref)
	assert.Equal(t, "PENDING", booking["status"])

	_, _, err := s.Transition(ctx, "bookings", ref, "COMPLETED")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	row, cmd, err := s.TransitionWith(ctx, "bookings", ref, "PROCESSING", map[string]any{"provider_ref": "TX-1"})
	require.NoError(t, err)
	assert.Empty(t, cmd)
	assert.Equal(t, "PROCESSING", row["status"])
	assert.Equal(t, "TX-1", row["provider_ref"])

	row, cmd, err = s.Transition(ctx, "bookings", ref, "COMPLETED")
	require.NoError(t, err)
	assert.Equal(t, CmdBookingCompleted, cmd)
	assert.Equal(t, "COMPLETED", row["status"])

	_, _, err = s.Transition(ctx, "bookings", ref, "FAILED")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = s.Delete(ctx, "bookings", ref)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTransition_FailedCanBeRetried(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	booking := createBooking(t, s, createEvent(t, s, createVenue(t, s, "Omnoi"), "Card", true), 1)
	ref := booking["reference_id"].(string)

	_, cmd, err := s.TransitionWith(ctx, "bookings", ref, "FAILED", map[string]any{"error_message": "declined"})
	require.NoError(t, err)
	assert.Equal(t, CmdBookingFailed, cmd)

	row, _, err := s.Transition(ctx, "bookings", ref, "PENDING")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", row["status"])
}

func TestTransition_StaleStateLoses(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	booking := createBooking(t, s, createEvent(t, s, createVenue(t, s, "Omnoi"), "Card", true), 1)
	ref := booking["reference_id"].(string)

	// Another writer moves the row after it was read.
	s.SetClock(func() time.Time {
		s.SetClock(time.Now)
		_, err := s.RawExec(ctx, "UPDATE bookings SET status = 'FAILED' WHERE reference_id = ?", ref)
		require.NoError(t, err)
		return time.Now()
	})

	_, _, err := s.Transition(ctx, "bookings", ref, "PROCESSING")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransition_NoStateMachine(t *testing.T) {
	s := setupTestStore(t)
	venue := createVenue(t, s, "Omnoi")

	_, _, err := s.Transition(context.Background(), "venues", venue["reference_id"].(string), "open")
	assert.Error(t, err)
}

// =============================================================================
// Raw access
// =============================================================================

func TestRawQueryAndTx(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createVenue(t, s, "Omnoi")

	rows, err := s.RawQuery(ctx, "SELECT name FROM venues WHERE city = ?", "Bangkok")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Omnoi", rows[0]["name"])

	err = s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE venues SET city = 'Nonthaburi'")
		return err
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, "venues", Eq("city", "Nonthaburi"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 11, 7, 19, 30, 0, 0, time.UTC)
	for _, in := range []string{"2026-11-07T19:30:00Z", "2026-11-07T19:30", "2026-11-07 19:30:00", "2026-11-07 19:30"} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTimestamp("next saturday")
	assert.Error(t, err)
}
