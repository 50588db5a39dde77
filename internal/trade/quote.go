package trade

import (
	"math/big"
)

// CreateInput is the parsed form of a new order's amount and total price.
// AmountErr and PriceErr are evaluated independently.
type CreateInput struct {
	Amount     *big.Int
	TotalPrice *big.Int
	AmountErr  error
	PriceErr   error
}

// ParseCreateInput parses a market-token amount and a stable total price,
// both at 18 decimals.
func ParseCreateInput(amount, totalPrice string) CreateInput {
	var in CreateInput
	in.Amount, in.AmountErr = ParseAmount(amount, FixedPointDecimals)
	in.TotalPrice, in.PriceErr = ParseAmount(totalPrice, FixedPointDecimals)
	return in
}

// Valid reports whether both inputs parsed.
func (in CreateInput) Valid() bool {
	return in.AmountErr == nil && in.PriceErr == nil
}

// CreateQuote carries the contract arguments for createOrder and the
// seller-facing proceeds estimate.
type CreateQuote struct {
	CreateInput
	UnderlyingAmount *big.Int
	PremiumPerUnit   *big.Int
	Proceeds         *big.Int
	// CalculationErr disables submission when set.
	CalculationErr error
}

// QuoteCreate derives premiumPerUnit from the total price and the
// underlying amount the order's tokens withdraw to.
func QuoteCreate(in CreateInput, underlyingAmount *big.Int, feeBps uint64) CreateQuote {
	q := CreateQuote{CreateInput: in, UnderlyingAmount: underlyingAmount}
	if !in.Valid() {
		return q
	}
	premium, err := PremiumPerUnit(in.TotalPrice, underlyingAmount)
	if err != nil {
		q.CalculationErr = err
		return q
	}
	proceeds, err := FeeAdjustedProceeds(in.TotalPrice, feeBps)
	if err != nil {
		q.CalculationErr = err
		return q
	}
	q.PremiumPerUnit = premium
	q.Proceeds = proceeds
	return q
}

// Submittable reports whether createOrder may be sent.
func (q CreateQuote) Submittable() bool {
	return q.Valid() && q.CalculationErr == nil && q.PremiumPerUnit != nil
}

// BuyInput is the parsed and classified purchase amount for one order.
type BuyInput struct {
	Amount *big.Int
	Kind   PurchaseKind
	Err    error
}

// ParseBuyInput parses a market-token amount and classifies it against the
// order's remaining amount.
func ParseBuyInput(amount string, remaining *big.Int) BuyInput {
	value, err := ParseAmount(amount, FixedPointDecimals)
	if err != nil {
		return BuyInput{Err: err}
	}
	kind, err := ClassifyPurchase(value, remaining)
	return BuyInput{Amount: value, Kind: kind, Err: err}
}
