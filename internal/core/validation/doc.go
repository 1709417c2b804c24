// Package validation provides pure validation functions for checkout.
//
// All functions are pure (no I/O, no side effects). The payments service
// calls them before it touches the store or a payment gateway.
//
// # Functions
//
//   - ValidateCheckoutFields: Validate the customer fields of a booking form
//   - CanPurchase: Check if a listed item can still be bought
//
// # Usage
//
//	if field, msg := validation.ValidateCheckoutFields(name, email, qty); field != "" {
//	    // Return 422 with msg
//	}
package validation
