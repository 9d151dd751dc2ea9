package model

import "time"

// Subscription is an active copy-trading configuration: AccountName mirrors
// every trade made by WalletAddress. Amounts are decimal strings in ETH.
type Subscription struct {
	SubscriptionID   string    `json:"subscription_id"`
	WalletAddress    string    `json:"wallet_address"`
	AccountName      string    `json:"account_name"`
	NotifyTarget     string    `json:"notify_target"`
	DelegationAmount string    `json:"delegation_amount"`
	MaxSlippage      string    `json:"max_slippage"`
	RemainingAmount  string    `json:"remaining_amount"`
	SpentAmount      string    `json:"spent_amount"`
	IsActive         bool      `json:"is_active"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}
