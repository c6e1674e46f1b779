package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Decimals is the number of implicit decimal places of one whole unit.
const Decimals = 18

// MaxDigits bounds every stored amount; it matches the NUMERIC(78,0) columns
// and holds any uint256 value.
const MaxDigits = 78

var (
	baseUnitsRe = regexp.MustCompile(`^-?[0-9]{1,78}$`)
	unitsRe     = regexp.MustCompile(`^-?[0-9]{1,60}(\.[0-9]{1,18})?$`)
)

// Asset identifies a fungible balance kind.
type Asset string

const (
	// AssetCarbon is the carbon credit unit.
	AssetCarbon Asset = "CARB"
	// AssetBase is the settlement asset used by the certificate marketplace.
	AssetBase Asset = "BASE"
)

// Assets lists every asset in display order.
var Assets = []Asset{AssetCarbon, AssetBase}

// Valid reports whether a is a known asset.
func (a Asset) Valid() bool {
	return a == AssetCarbon || a == AssetBase
}

// Balance is the holding of one identity in one asset, in base units.
type Balance struct {
	IdentityID string          `json:"identity_id"`
	Asset      Asset           `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Supply tracks issuance counters of an asset.
type Supply struct {
	Asset     Asset           `json:"asset"`
	Minted    decimal.Decimal `json:"minted"`
	Burned    decimal.Decimal `json:"burned"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Circulating is minted minus burned.
func (s *Supply) Circulating() decimal.Decimal {
	return s.Minted.Sub(s.Burned)
}

// InRange reports whether the integer part of d has at most MaxDigits digits.
// It inspects the coefficient and exponent only, so it stays cheap for values
// such as 1e50000000 whose decimal rendering would be huge.
func InRange(d decimal.Decimal) bool {
	if d.Exponent() > MaxDigits {
		return false
	}
	if d.IsZero() {
		return true
	}
	return d.NumDigits()+int(d.Exponent()) <= MaxDigits
}

// IsValidAmount reports whether d is a strictly positive whole number of base units.
func IsValidAmount(d decimal.Decimal) bool {
	return InRange(d) && d.IsPositive() && d.IsInteger()
}

// IsValidPrice reports whether d is a non-negative whole number of base units.
func IsValidPrice(d decimal.Decimal) bool {
	return InRange(d) && !d.IsNegative() && d.IsInteger()
}

// AmountString renders d for error details and logs, or a placeholder when d
// is out of range.
func AmountString(d decimal.Decimal) string {
	if !InRange(d) {
		return "out of range"
	}
	return d.String()
}

// ParseBaseUnits parses an integer count of base units such as "500".
// Only plain digits with an optional sign are accepted: no exponent, no
// fraction, at most MaxDigits digits.
func ParseBaseUnits(s string) (decimal.Decimal, error) {
	if !baseUnitsRe.MatchString(s) {
		return decimal.Zero, fmt.Errorf("amount %q is not a whole number of at most %d digits", truncate(s), MaxDigits)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}

// ParseUnits converts a human amount ("1.5") into base units scaled by Decimals.
func ParseUnits(s string) (decimal.Decimal, error) {
	if !unitsRe.MatchString(s) {
		return decimal.Zero, fmt.Errorf("units %q are not a plain decimal with at most %d decimals", truncate(s), Decimals)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse units %q: %w", s, err)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return decimal.Zero, fmt.Errorf("units %q have more than %d decimals", s, Decimals)
	}
	return scaled.Truncate(0), nil
}

// FormatUnits renders base units as a human amount.
func FormatUnits(d decimal.Decimal) string {
	return d.Shift(-Decimals).String()
}

// WholeUnits returns the amount in whole units as a float, for metrics only.
func WholeUnits(d decimal.Decimal) float64 {
	f, _ := d.Shift(-Decimals).Float64()
	return f
}
