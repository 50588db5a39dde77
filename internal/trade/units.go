package trade

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FixedPointDecimals is the scale of market tokens, stable amounts, prices
// and premiums.
const FixedPointDecimals = 18

var (
	// ErrInvalidAmount marks a user amount or price that is not a positive
	// decimal representable exactly at the token's precision.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAmountExceedsRemaining marks a purchase larger than the order.
	ErrAmountExceedsRemaining = errors.New("amount exceeds order remaining")
	// ErrCalculation marks a computation that cannot produce a contract
	// argument (zero or missing denominator, overflow).
	ErrCalculation = errors.New("calculation error")
)

// maxUint256Digits is the decimal digit count of 2^256-1.
const maxUint256Digits = 78

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MaxUint256 returns 2^256-1.
func MaxUint256() *big.Int {
	return new(big.Int).Set(maxUint256)
}

// ParseAmount converts a human decimal string to smallest units. The value
// must be positive and have no more fractional digits than decimals.
func ParseAmount(text string, decimals uint8) (*big.Int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: %q must be greater than zero", ErrInvalidAmount, text)
	}
	// 10^78 already exceeds 2^256, so larger exponents are rejected before
	// the integer is built.
	if int64(d.Exponent())+int64(decimals) >= maxUint256Digits {
		return nil, fmt.Errorf("%w: %q overflows uint256", ErrInvalidAmount, text)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, text, decimals)
	}
	value := scaled.BigInt()
	if value.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %q overflows uint256", ErrInvalidAmount, text)
	}
	return value, nil
}

// ToDecimal expresses smallest units as an exact decimal.
func ToDecimal(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}

// FormatUnits renders smallest units exactly, without trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	return ToDecimal(value, decimals).String()
}

// FormatFixed renders smallest units with exactly places fractional digits,
// truncating toward zero like the contracts do.
func FormatFixed(value *big.Int, decimals uint8, places int32) string {
	return ToDecimal(value, decimals).Truncate(places).StringFixed(places)
}
