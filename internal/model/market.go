package model

import "github.com/ethereum/go-ethereum/common"

// Market is one deployed marketplace and its aggregate metrics at fetch time.
type Market struct {
	ID               common.Address `json:"id"`
	Token            common.Address `json:"token"`
	UnderlyingToken  common.Address `json:"underlying_token"`
	DisplayName      string         `json:"display_name"`
	IconURL          string         `json:"icon_url"`
	TotalValueLocked string         `json:"total_value_locked"`
	PricePerShare    string         `json:"price_per_share"`
	OraclePrice      string         `json:"oracle_price"`
}
