package validation

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxQuantity is the most units one booking may hold.
const MaxQuantity = 20

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// =============================================================================
// Checkout Validation Functions
// =============================================================================

// ValidateCheckoutFields validates the customer part of a booking form.
// Returns the field name and error message if validation fails.
// Returns empty strings if all fields are valid.
//
// Example:
//
//	field, msg := ValidateCheckoutFields("Somchai", "somchai@example.com", 2)
//	if field != "" {
//	    // Handle validation error
//	}
func ValidateCheckoutFields(name, email string, quantity int64) (field, message string) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return "customer_name", "customer_name is required"
	}
	if utf8.RuneCountInString(name) > 120 {
		return "customer_name", "customer_name must be at most 120 characters"
	}
	if email == "" {
		return "customer_email", "customer_email is required"
	}
	if !emailPattern.MatchString(email) {
		return "customer_email", "customer_email has invalid format"
	}
	if quantity < 1 {
		return "quantity", "quantity must be at least 1"
	}
	if quantity > MaxQuantity {
		return "quantity", "quantity must be at most 20"
	}
	return "", ""
}

// CanPurchase checks if an item can be bought at now. listed is the item's
// published (events) or active (courses, products) flag; startsAt is zero for
// items without a start time.
//
// Example:
//
//	allowed, reason := CanPurchase(event.Published, event.StartsAt, now)
//	if !allowed {
//	    // Return 409 Conflict with reason
//	}
func CanPurchase(listed bool, startsAt, now time.Time) (allowed bool, reason string) {
	if !listed {
		return false, "item is not on sale"
	}
	if !startsAt.IsZero() && startsAt.Before(now) {
		return false, "event has already started"
	}
	return true, ""
}
