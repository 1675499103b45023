// Package payment drives bank-transfer payment confirmation for a booking.
// A payment session lives from entering the payment step until the step is
// left; it owns the transaction code, the amount due and the QR payload.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/vietcare/booking-gateway/internal/catalog"
)

// PriceSource resolves the fee row for a service name.
type PriceSource interface {
	GetPrice(ctx context.Context, typeName string) (*catalog.Price, error)
}

// Session is the state of one payment step activation.
type Session struct {
	TransactionCode string `json:"transactionCode"`
	AmountCents     int64  `json:"amountCents"`
	Currency        string `json:"currency"`
	QRPayload       string `json:"qrPayload"`
	Confirmed       bool   `json:"confirmed"`
}

// TransactionCode derives the bank-transfer reference for one booking attempt:
// the work-schedule id followed by the patient id with everything outside
// [0-9A-Za-z] removed. Deterministic, so the reconciliation job can match a
// transfer to exactly one attempt.
func TransactionCode(workScheduleID, patientID string) string {
	var b strings.Builder
	b.Grow(len(workScheduleID) + len(patientID))
	b.WriteString(workScheduleID)
	for _, r := range patientID {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QRPayload renders the bank-transfer QR image URL for the session.
func QRPayload(bankCode, accountNumber string, amountCents int64, transactionCode string) string {
	q := url.Values{}
	q.Set("amount", fmt.Sprintf("%d", amountCents))
	q.Set("addInfo", transactionCode)
	return fmt.Sprintf("https://img.vietqr.io/image/%s-%s-compact2.png?%s",
		url.PathEscape(bankCode), url.PathEscape(accountNumber), q.Encode())
}

// NewSession builds the payment session for a booking attempt. The fee is
// looked up by service name; a missing price row falls back to the default
// appointment price. Any other lookup failure is returned so the caller can
// block the payment step until resolved.
func NewSession(ctx context.Context, prices PriceSource, serviceName, workScheduleID, patientID string,
	bankCode, accountNumber string, defaultAmountCents int64, currency string) (*Session, error) {

	amount := defaultAmountCents
	price, err := prices.GetPrice(ctx, serviceName)
	switch {
	case err == nil:
		amount = price.AmountCents
		if price.Currency != "" {
			currency = price.Currency
		}
	case errors.Is(err, catalog.ErrPriceNotFound):
		// keep the default appointment price
	default:
		return nil, fmt.Errorf("payment: resolve fee: %w", err)
	}

	code := TransactionCode(workScheduleID, patientID)
	return &Session{
		TransactionCode: code,
		AmountCents:     amount,
		Currency:        currency,
		QRPayload:       QRPayload(bankCode, accountNumber, amount, code),
	}, nil
}
