// Package chillpay builds and verifies ChillPay payment checksums.
// This is part of the functional core: no HTTP, no clock, no database.
//
// ChillPay signs every request and notification with an MD5 digest over the
// concatenated field values followed by the merchant's MD5 secret key. Field
// order is fixed by the gateway and must not change.
package chillpay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrChecksumMismatch is returned when a notification was not signed with our secret.
	ErrChecksumMismatch = errors.New("chillpay checksum mismatch")

	// ErrUnsupportedCurrency is returned for currencies ChillPay has no numeric code for.
	ErrUnsupportedCurrency = errors.New("unsupported chillpay currency")
)

// Sum returns the lowercase hex MD5 digest of the concatenated parts.
func Sum(parts ...string) string {
	h := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(h[:])
}

// CurrencyCode maps an ISO 4217 alpha code to ChillPay's numeric code.
func CurrencyCode(iso string) (string, error) {
	switch strings.ToUpper(iso) {
	case "THB":
		return "764", nil
	case "USD":
		return "840", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedCurrency, iso)
}

// =============================================================================
// Payment Request
// =============================================================================

// PaymentRequest is the form posted to the ChillPay payment API.
type PaymentRequest struct {
	MerchantCode    string
	OrderNo         string
	CustomerID      string
	Amount          int64 // minor units
	PhoneNumber     string
	Description     string
	ChannelCode     string
	Currency        string // numeric code, see CurrencyCode
	LangCode        string
	RouteNo         string
	IPAddress       string
	APIKey          string
	TokenFlag       string
	CreditToken     string
	CreditMonth     string
	ShopID          string
	ProductImageURL string
	CustEmail       string
	CardType        string
}

// Checksum computes the request checksum with the merchant secret.
func (r PaymentRequest) Checksum(secret string) string {
	return Sum(
		r.MerchantCode,
		r.OrderNo,
		r.CustomerID,
		strconv.FormatInt(r.Amount, 10),
		r.PhoneNumber,
		r.Description,
		r.ChannelCode,
		r.Currency,
		r.LangCode,
		r.RouteNo,
		r.IPAddress,
		r.APIKey,
		r.TokenFlag,
		r.CreditToken,
		r.CreditMonth,
		r.ShopID,
		r.ProductImageURL,
		r.CustEmail,
		r.CardType,
		secret,
	)
}

// Form returns the signed form values ready to be posted.
func (r PaymentRequest) Form(secret string) url.Values {
	v := url.Values{}
	v.Set("MerchantCode", r.MerchantCode)
	v.Set("OrderNo", r.OrderNo)
	v.Set("CustomerId", r.CustomerID)
	v.Set("Amount", strconv.FormatInt(r.Amount, 10))
	v.Set("PhoneNumber", r.PhoneNumber)
	v.Set("Description", r.Description)
	v.Set("ChannelCode", r.ChannelCode)
	v.Set("Currency", r.Currency)
	v.Set("LangCode", r.LangCode)
	v.Set("RouteNo", r.RouteNo)
	v.Set("IPAddress", r.IPAddress)
	v.Set("ApiKey", r.APIKey)
	v.Set("TokenFlag", r.TokenFlag)
	v.Set("CreditToken", r.CreditToken)
	v.Set("CreditMonth", r.CreditMonth)
	v.Set("ShopID", r.ShopID)
	v.Set("ProductImageUrl", r.ProductImageURL)
	v.Set("CustEmail", r.CustEmail)
	v.Set("CardType", r.CardType)
	v.Set("CheckSum", r.Checksum(secret))
	return v
}

// =============================================================================
// Callback Notification
// =============================================================================

// Outcome is what a callback means for the booking.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePaid
	OutcomeFailed
)

// Callback is the background notification ChillPay posts after a payment attempt.
type Callback struct {
	TransactionID      string
	Amount             string
	OrderNo            string
	CustomerID         string
	BankCode           string
	PaymentDate        string
	PaymentStatus      string
	BankRefCode        string
	CurrentDate        string
	CurrentTime        string
	PaymentDescription string
	CreditCardToken    string
	Currency           string
	CustomerName       string
	CheckSum           string
}

// ParseCallback reads a callback from posted form values.
func ParseCallback(form url.Values) Callback {
	return Callback{
		TransactionID:      form.Get("TransactionId"),
		Amount:             form.Get("Amount"),
		OrderNo:            form.Get("OrderNo"),
		CustomerID:         form.Get("CustomerId"),
		BankCode:           form.Get("BankCode"),
		PaymentDate:        form.Get("PaymentDate"),
		PaymentStatus:      form.Get("PaymentStatus"),
		BankRefCode:        form.Get("BankRefCode"),
		CurrentDate:        form.Get("CurrentDate"),
		CurrentTime:        form.Get("CurrentTime"),
		PaymentDescription: form.Get("PaymentDescription"),
		CreditCardToken:    form.Get("CreditCardToken"),
		Currency:           form.Get("Currency"),
		CustomerName:       form.Get("CustomerName"),
		CheckSum:           form.Get("CheckSum"),
	}
}

// ExpectedChecksum computes the checksum ChillPay should have sent.
func (c Callback) ExpectedChecksum(secret string) string {
	return Sum(
		c.TransactionID,
		c.Amount,
		c.OrderNo,
		c.CustomerID,
		c.BankCode,
		c.PaymentDate,
		c.PaymentStatus,
		c.BankRefCode,
		c.CurrentDate,
		c.CurrentTime,
		c.PaymentDescription,
		c.CreditCardToken,
		c.Currency,
		c.CustomerName,
		secret,
	)
}

// Verify checks the callback checksum.
func (c Callback) Verify(secret string) error {
	want := c.ExpectedChecksum(secret)
	got := strings.ToLower(strings.TrimSpace(c.CheckSum))
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrChecksumMismatch
	}
	return nil
}

// AmountMinor parses the callback amount (already in minor units).
func (c Callback) AmountMinor() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(c.Amount), 10, 64)
}

// Outcome maps PaymentStatus to what should happen to the booking.
// 0 is success; 1 (fail), 2 (cancel) and 3 (error) are failures; anything else
// (9 is "waiting for payment") leaves the booking untouched.
func (c Callback) Outcome() Outcome {
	switch strings.TrimSpace(c.PaymentStatus) {
	case "0":
		return OutcomePaid
	case "1", "2", "3":
		return OutcomeFailed
	}
	return OutcomePending
}

// StatusText describes a failed PaymentStatus for error_message.
func (c Callback) StatusText() string {
	switch strings.TrimSpace(c.PaymentStatus) {
	case "0":
		return "success"
	case "1":
		return "payment failed"
	case "2":
		return "payment cancelled"
	case "3":
		return "payment error"
	case "9":
		return "waiting for payment"
	}
	return "unknown status " + c.PaymentStatus
}
