package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNetwork(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BASE_MAINNET", "base"},
		{"base-sepolia", "base"},
		{"ethereum", "ethereum"},
		{"ETH_MAINNET", "eth_mainnet"},
		{"  Arbitrum ", "arbitrum"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeNetwork(tt.in), tt.in)
	}
}

func TestHoldingKey_String(t *testing.T) {
	k := NewHoldingKey("sub-1", "0xABCdef", "BASE_MAINNET")
	assert.Equal(t, "holdings:sub-1:0xabcdef:base", k.String())
}

func TestNewCopyTradeJob(t *testing.T) {
	v := 12.5
	trade := ClassifiedTrade{
		Direction:     DirectionBuy,
		BaseAsset:     "PEPE",
		TokenAddress:  "0xToken",
		TraderAddress: "0xTrader",
		TxHash:        "0xhash",
		Value:         &v,
	}
	sub := Subscription{
		SubscriptionID:   "sub-1",
		WalletAddress:    "0xTRADER",
		AccountName:      "acct",
		NotifyTarget:     "12345",
		DelegationAmount: "0.01",
		MaxSlippage:      "0.015",
		RemainingAmount:  "0.5",
		SpentAmount:      "0.25",
	}

	job := NewCopyTradeJob(trade, sub, "BASE_MAINNET")
	require.NoError(t, job.Validate())
	assert.Equal(t, "0xtoken", job.Token.Address)
	assert.Equal(t, "PEPE", job.Token.Symbol)
	assert.Equal(t, "0xtrader", job.WalletAddress)
	assert.Equal(t, "holdings:sub-1:0xtoken:base", job.HoldingKey().String())
	assert.NotEqual(t, uuid.Nil, job.JobID)
	assert.Equal(t, "0.5", job.RemainingAmount)
	assert.Equal(t, "0.25", job.SpentAmount)
}

func TestCopyTradeJob_Validate(t *testing.T) {
	base := CopyTradeJob{
		Direction:        DirectionSell,
		SubscriptionID:   "sub-1",
		AccountName:      "acct",
		Token:            Token{Address: "0xtoken"},
		Network:          "base",
		DelegationAmount: "",
	}
	require.NoError(t, base.Validate(), "sell does not need a delegation amount")

	buy := base
	buy.Direction = DirectionBuy
	assert.True(t, errors.Is(buy.Validate(), ErrInvalidJob))

	bad := base
	bad.Direction = "HOLD"
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidJob))

	noToken := base
	noToken.Token.Address = ""
	assert.Error(t, noToken.Validate())
}

func TestDirection_UnmarshalJSON(t *testing.T) {
	var d Direction
	require.NoError(t, json.Unmarshal([]byte(`"buy"`), &d))
	assert.Equal(t, DirectionBuy, d)
	assert.Error(t, json.Unmarshal([]byte(`"hold"`), &d))
}

func TestActivity_TokenAddress(t *testing.T) {
	a := Activity{RawContract: &RawContract{Address: "0xAAA"}, Log: &ActivityLog{Address: "0xBBB"}}
	assert.Equal(t, "0xaaa", a.TokenAddress())

	a = Activity{Log: &ActivityLog{Address: "0xBBB"}}
	assert.Equal(t, "0xbbb", a.TokenAddress())

	assert.Equal(t, "", Activity{}.TokenAddress())
}
