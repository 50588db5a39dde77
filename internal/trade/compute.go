package trade

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BpsDenominator is the basis-point scale of protocol fees.
const BpsDenominator = 10_000

func toUint256(name string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: %s is missing", ErrCalculation, name)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s is negative", ErrCalculation, name)
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows uint256", ErrCalculation, name)
	}
	return u, nil
}

// PremiumPerUnit is totalPrice / underlyingAmount with the remainder
// truncated, matching settlement. totalPrice is 18-decimal fixed point;
// underlyingAmount is in the underlying asset's smallest units.
func PremiumPerUnit(totalPrice, underlyingAmount *big.Int) (*big.Int, error) {
	total, err := toUint256("total price", totalPrice)
	if err != nil {
		return nil, err
	}
	underlying, err := toUint256("underlying amount", underlyingAmount)
	if err != nil {
		return nil, err
	}
	if underlying.IsZero() {
		return nil, fmt.Errorf("%w: underlying amount is zero", ErrCalculation)
	}
	return new(uint256.Int).Div(total, underlying).ToBig(), nil
}

// FeeAdjustedProceeds is totalPrice - totalPrice*feeBps/10000. It is an
// estimate for display; the contract deducts the fee itself.
func FeeAdjustedProceeds(totalPrice *big.Int, feeBps uint64) (*big.Int, error) {
	if feeBps > BpsDenominator {
		return nil, fmt.Errorf("%w: fee %d bps exceeds 100%%", ErrCalculation, feeBps)
	}
	total, err := toUint256("total price", totalPrice)
	if err != nil {
		return nil, err
	}
	fee, overflow := new(uint256.Int).MulOverflow(total, uint256.NewInt(feeBps))
	if overflow {
		return nil, fmt.Errorf("%w: fee multiplication overflows", ErrCalculation)
	}
	fee.Div(fee, uint256.NewInt(BpsDenominator))
	return new(uint256.Int).Sub(total, fee).ToBig(), nil
}

// PremiumCost is underlyingRemaining * premiumPerUnit, in 18-decimal stable
// units.
func PremiumCost(underlyingRemaining, premiumPerUnit *big.Int) (*big.Int, error) {
	amount, err := toUint256("underlying remaining", underlyingRemaining)
	if err != nil {
		return nil, err
	}
	premium, err := toUint256("premium per unit", premiumPerUnit)
	if err != nil {
		return nil, err
	}
	cost, overflow := new(uint256.Int).MulOverflow(amount, premium)
	if overflow {
		return nil, fmt.Errorf("%w: premium cost overflows uint256", ErrCalculation)
	}
	return cost.ToBig(), nil
}

// PurchaseKind selects the marketplace entry point for a buy.
type PurchaseKind int

const (
	PurchasePartial PurchaseKind = iota
	PurchaseFull
)

func (k PurchaseKind) String() string {
	switch k {
	case PurchaseFull:
		return "full"
	case PurchasePartial:
		return "partial"
	default:
		return fmt.Sprintf("PurchaseKind(%d)", int(k))
	}
}

// ClassifyPurchase checks 0 < amount <= remaining and reports whether the
// purchase takes the whole order.
func ClassifyPurchase(amount, remaining *big.Int) (PurchaseKind, error) {
	if amount == nil || amount.Sign() <= 0 {
		return PurchasePartial, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if remaining == nil || remaining.Sign() <= 0 {
		return PurchasePartial, fmt.Errorf("%w: order has nothing remaining", ErrAmountExceedsRemaining)
	}
	switch amount.Cmp(remaining) {
	case 0:
		return PurchaseFull, nil
	case 1:
		return PurchasePartial, ErrAmountExceedsRemaining
	default:
		return PurchasePartial, nil
	}
}

// IsFullOrder reports whether amount equals the order's remaining amount.
func IsFullOrder(amount, remaining *big.Int) bool {
	kind, err := ClassifyPurchase(amount, remaining)
	return err == nil && kind == PurchaseFull
}
