// Package risk scores portfolio sustainability and enforces the balance
// limits that gate opening a position.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCollateral is returned when the requested collateral is not
	// positive.
	ErrInvalidCollateral = errors.New("risk: collateral must be positive")

	// ErrInsufficientBalance is returned when a trade would post more
	// collateral than the available balance.
	ErrInsufficientBalance = errors.New("risk: collateral exceeds available balance")
)

// Limiter gates new positions against the available balance. The zero value
// enforces 0 < collateral <= balance.
type Limiter struct {
	// MaxCollateral caps a single position's collateral. Zero disables it.
	MaxCollateral decimal.Decimal
}

// NewLimiter creates a limiter with an optional per-position cap.
func NewLimiter(maxCollateral decimal.Decimal) *Limiter {
	return &Limiter{MaxCollateral: maxCollateral}
}

// CheckOpen validates that collateral can be debited from balance.
// Returns nil if the trade is within limits.
func (l *Limiter) CheckOpen(balance, collateral decimal.Decimal) error {
	if !collateral.IsPositive() {
		return ErrInvalidCollateral
	}
	if collateral.GreaterThan(balance) {
		return ErrInsufficientBalance
	}
	if l != nil && l.MaxCollateral.IsPositive() && collateral.GreaterThan(l.MaxCollateral) {
		return ErrInsufficientBalance
	}
	return nil
}
