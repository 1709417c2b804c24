package domain

import "fmt"

// =============================================================================
// Booking Status
// =============================================================================

// BookingStatus is the payment status flag written to a booking row.
type BookingStatus string

const (
	BookingPending    BookingStatus = "PENDING"
	BookingProcessing BookingStatus = "PROCESSING"
	BookingCompleted  BookingStatus = "COMPLETED"
	BookingFailed     BookingStatus = "FAILED"
)

// IsFinal reports whether no further payment notification should change the booking.
func (s BookingStatus) IsFinal() bool {
	return s == BookingCompleted
}

// =============================================================================
// Booking Items
// =============================================================================

// ItemType names the catalogue table a booking points into.
type ItemType string

const (
	ItemEvent   ItemType = "event"
	ItemCourse  ItemType = "course"
	ItemProduct ItemType = "product"
)

// ItemTypes lists the bookable item types.
var ItemTypes = []string{string(ItemEvent), string(ItemCourse), string(ItemProduct)}

// Resource returns the table backing the item type.
func (t ItemType) Resource() (string, error) {
	switch t {
	case ItemEvent:
		return "events", nil
	case ItemCourse:
		return "courses", nil
	case ItemProduct:
		return "products", nil
	}
	return "", fmt.Errorf("unknown item type %q", string(t))
}

// TracksSeats reports whether the item is limited by seats rather than stock.
func (t ItemType) TracksSeats() bool {
	return t == ItemEvent || t == ItemCourse
}

// =============================================================================
// Payment Providers
// =============================================================================

// Provider names a payment gateway.
type Provider string

const (
	ProviderChillPay Provider = "chillpay"
	ProviderPayPal   Provider = "paypal"
)

// Providers lists the supported gateways.
var Providers = []string{string(ProviderChillPay), string(ProviderPayPal)}

// Currencies lists the currencies catalogue items may be priced in.
var Currencies = []string{"THB", "USD"}

// Availability returns how many units of an item can still be booked.
// A non-positive capacity means unlimited.
func Availability(capacity, used int64) int64 {
	if capacity <= 0 {
		return -1
	}
	if used >= capacity {
		return 0
	}
	return capacity - used
}

// CanBook reports whether quantity units fit into the remaining availability.
func CanBook(capacity, used, quantity int64) bool {
	if quantity <= 0 {
		return false
	}
	left := Availability(capacity, used)
	return left < 0 || quantity <= left
}
