package models

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
	"github.com/stellar/go/amount"
)

// AmountScale is the number of fractional digits a ledger amount can carry
const AmountScale = 7

var (
	amountPattern = regexp.MustCompile(`^\d+(\.\d{1,7})?$`)

	ErrInvalidAmount = errors.New("amount must be a non-negative decimal with at most 7 fractional digits")
)

// ParseAmount validates a decimal amount string without going through float64.
// It accepts exactly what the ledger client will encode: at most 20
// characters, 7 fractional digits and a value that fits in stroops.
func ParseAmount(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	stroops, err := amount.ParseInt64(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return decimal.New(stroops, -AmountScale), nil
}

// IsValidAmount reports whether s is a non-negative amount
func IsValidAmount(s string) bool {
	_, err := ParseAmount(s)
	return err == nil
}

// IsPayableAmount reports whether s can be sent in a payment
func IsPayableAmount(s string) bool {
	d, err := ParseAmount(s)
	return err == nil && d.IsPositive()
}
