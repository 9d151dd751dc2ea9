package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Direction is the side of a mirrored trade from the trader's perspective.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Valid returns true if the direction is one of the known constants.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v := Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return fmt.Errorf("invalid direction: %q", s)
	}
	*d = v
	return nil
}

// ClassifiedTrade is a swap-like transfer attributed to a trader wallet.
type ClassifiedTrade struct {
	Direction     Direction `json:"direction"`
	BaseAsset     string    `json:"base_asset"`
	QuoteAsset    string    `json:"quote_asset,omitempty"` // informational only
	TokenAddress  string    `json:"token_address,omitempty"`
	TraderAddress string    `json:"trader_address"`
	TxHash        string    `json:"tx_hash"`
	Value         *float64  `json:"value,omitempty"`
}
