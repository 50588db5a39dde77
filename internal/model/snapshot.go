package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceSnapshot is a point-in-time token balance read.
type BalanceSnapshot struct {
	Owner     common.Address `json:"owner"`
	Token     common.Address `json:"token"`
	Value     *big.Int       `json:"value"`
	Decimals  uint8          `json:"decimals"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// AllowanceSnapshot is a point-in-time allowance read.
type AllowanceSnapshot struct {
	Owner     common.Address `json:"owner"`
	Token     common.Address `json:"token"`
	Spender   common.Address `json:"spender"`
	Value     *big.Int       `json:"value"`
	Decimals  uint8          `json:"decimals"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Covers reports whether the allowance is at least required.
func (a AllowanceSnapshot) Covers(required *big.Int) bool {
	if required == nil || required.Sign() == 0 {
		return true
	}
	if a.Value == nil {
		return false
	}
	return a.Value.Cmp(required) >= 0
}

// WalletBalance is a non-zero balance prepared for display.
type WalletBalance struct {
	Token    common.Address `json:"token"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Value    *big.Int       `json:"value"`
	Amount   string         `json:"amount"`
	USDValue string         `json:"usd_value"`
}
