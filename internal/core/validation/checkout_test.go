package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCheckoutFields(t *testing.T) {
	tests := []struct {
		name      string
		customer  string
		email     string
		quantity  int64
		wantField string
	}{
		{"valid", "Somchai", "somchai@example.com", 2, ""},
		{"trimmed", "  Somchai ", " somchai@example.com ", 1, ""},
		{"missing name", "  ", "somchai@example.com", 1, "customer_name"},
		{"long name", strings.Repeat("a", 121), "somchai@example.com", 1, "customer_name"},
		{"thai name", strings.Repeat("ส", 120), "somchai@example.com", 1, ""},
		{"long thai name", strings.Repeat("ส", 121), "somchai@example.com", 1, "customer_name"},
		{"negative quantity", "Somchai", "somchai@example.com", -3, "quantity"},
		{"missing email", "Somchai", "", 1, "customer_email"},
		{"bad email", "Somchai", "not-an-email", 1, "customer_email"},
		{"zero quantity", "Somchai", "somchai@example.com", 0, "quantity"},
		{"too many", "Somchai", "somchai@example.com", MaxQuantity + 1, "quantity"},
		{"max quantity", "Somchai", "somchai@example.com", MaxQuantity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, msg := ValidateCheckoutFields(tt.customer, tt.email, tt.quantity)
			assert.Equal(t, tt.wantField, field)
			if tt.wantField == "" {
				assert.Empty(t, msg)
			} else {
				assert.Contains(t, msg, tt.wantField)
			}
		})
	}
}

func TestCanPurchase(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	allowed, reason := CanPurchase(true, now.Add(time.Hour), now)
	assert.True(t, allowed)
	assert.Empty(t, reason)

	allowed, _ = CanPurchase(true, time.Time{}, now)
	assert.True(t, allowed, "items without a start time")

	allowed, reason = CanPurchase(false, now.Add(time.Hour), now)
	assert.False(t, allowed)
	assert.Equal(t, "item is not on sale", reason)

	allowed, reason = CanPurchase(true, now.Add(-time.Minute), now)
	assert.False(t, allowed)
	assert.Equal(t, "event has already started", reason)
}
