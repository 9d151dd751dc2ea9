package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CopyTradeJob is one (ClassifiedTrade x Subscription) match. It carries every
// field the executor needs so no lookups happen on the consumer side.
type CopyTradeJob struct {
	JobID     uuid.UUID `json:"job_id"`
	Direction Direction `json:"direction"`

	SubscriptionID   string `json:"subscription_id"`
	AccountName      string `json:"account_name"`
	WalletAddress    string `json:"wallet_address"`
	NotifyTarget     string `json:"notify_target"`
	DelegationAmount string `json:"delegation_amount"`
	MaxSlippage      string `json:"max_slippage"`
	RemainingAmount  string `json:"remaining_amount,omitempty"`
	SpentAmount      string `json:"spent_amount,omitempty"`

	Token         Token    `json:"token"`
	TraderAddress string   `json:"trader_address"`
	TxHash        string   `json:"tx_hash"`
	Network       string   `json:"network"`
	ObservedValue *float64 `json:"observed_value,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Token struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

var ErrInvalidJob = errors.New("invalid copy trade job")

// NewCopyTradeJob materializes a job from a classified trade and a matching subscription.
func NewCopyTradeJob(trade ClassifiedTrade, sub Subscription, network string) CopyTradeJob {
	return CopyTradeJob{
		JobID:            uuid.New(),
		Direction:        trade.Direction,
		SubscriptionID:   sub.SubscriptionID,
		AccountName:      sub.AccountName,
		WalletAddress:    strings.ToLower(sub.WalletAddress),
		NotifyTarget:     sub.NotifyTarget,
		DelegationAmount: sub.DelegationAmount,
		MaxSlippage:      sub.MaxSlippage,
		RemainingAmount:  sub.RemainingAmount,
		SpentAmount:      sub.SpentAmount,
		Token: Token{
			Address: strings.ToLower(trade.TokenAddress),
			Symbol:  trade.BaseAsset,
		},
		TraderAddress: trade.TraderAddress,
		TxHash:        trade.TxHash,
		Network:       network,
		ObservedValue: trade.Value,
		EnqueuedAt:    time.Now().UTC(),
	}
}

// Validate checks the fields every execution path depends on.
func (j CopyTradeJob) Validate() error {
	switch {
	case !j.Direction.Valid():
		return fmt.Errorf("%w: direction %q", ErrInvalidJob, j.Direction)
	case j.SubscriptionID == "":
		return fmt.Errorf("%w: missing subscription id", ErrInvalidJob)
	case j.AccountName == "":
		return fmt.Errorf("%w: missing account name", ErrInvalidJob)
	case j.Token.Address == "":
		return fmt.Errorf("%w: missing token address", ErrInvalidJob)
	case j.Network == "":
		return fmt.Errorf("%w: missing network", ErrInvalidJob)
	case j.Direction == DirectionBuy && j.DelegationAmount == "":
		return fmt.Errorf("%w: buy without delegation amount", ErrInvalidJob)
	}
	return nil
}

// HoldingKey identifies the holding this job reads or writes.
func (j CopyTradeJob) HoldingKey() HoldingKey {
	return NewHoldingKey(j.SubscriptionID, j.Token.Address, j.Network)
}

// HoldingKey addresses one HoldingRecord: (subscription, token, network).
type HoldingKey struct {
	SubscriptionID string
	TokenAddress   string
	Network        string
}

// NewHoldingKey lowercases the token address and normalizes the network name.
func NewHoldingKey(subscriptionID, tokenAddress, network string) HoldingKey {
	return HoldingKey{
		SubscriptionID: subscriptionID,
		TokenAddress:   strings.ToLower(tokenAddress),
		Network:        NormalizeNetwork(network),
	}
}

func (k HoldingKey) String() string {
	return fmt.Sprintf("holdings:%s:%s:%s", k.SubscriptionID, k.TokenAddress, k.Network)
}

// NormalizeNetwork maps any network name containing "base" to "base";
// every other name is passed through lowercased. BASE_MAINNET -> base.
func NormalizeNetwork(network string) string {
	n := strings.ToLower(strings.TrimSpace(network))
	if strings.Contains(n, "base") {
		return "base"
	}
	return n
}
