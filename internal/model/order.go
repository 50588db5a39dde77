package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Order is an immutable snapshot of one marketplace sell order.
//
// RemainingAmount is denominated in the market token. UnderlyingRemaining is
// the same position expressed in the underlying asset's smallest unit, which
// is what PremiumPerUnit is priced against.
type Order struct {
	Market              common.Address `json:"market"`
	MarketName          string         `json:"market_name,omitempty"`
	OrderID             *big.Int       `json:"order_id"`
	Seller              common.Address `json:"seller"`
	RemainingAmount     *big.Int       `json:"remaining_amount"`
	UnderlyingRemaining *big.Int       `json:"underlying_remaining"`
	UnderlyingDecimals  uint8          `json:"underlying_decimals"`
	UnderlyingPrice     *big.Int       `json:"underlying_price"`
	PremiumPerUnit      *big.Int       `json:"premium_per_unit"`
	IsActive            bool           `json:"is_active"`

	AmountFormatted         string          `json:"amount_formatted"`
	PremiumPerUnitFormatted string          `json:"premium_per_unit_formatted"`
	PremiumCost             *big.Int        `json:"premium_cost"`
	PremiumFormatted        string          `json:"premium_formatted"`
	WorthUnderlying         decimal.Decimal `json:"worth_underlying"`
	PremiumPercent          decimal.Decimal `json:"premium_percent"`
	// PremiumPercentOK is false when the underlying worth is zero and
	// PremiumPercent carries no meaning.
	PremiumPercentOK bool `json:"premium_percent_ok"`
}

// Purchasable reports whether the order can still be bought from.
func (o Order) Purchasable() bool {
	return o.IsActive && o.RemainingAmount != nil && o.RemainingAmount.Sign() > 0
}
