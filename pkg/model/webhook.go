package model

import "strings"

// InboundEvent is an address-activity webhook delivery. Only the fields the
// pipeline consumes are modelled.
type InboundEvent struct {
	WebhookID string        `json:"webhookId"`
	ID        string        `json:"id"`
	CreatedAt string        `json:"createdAt"`
	Type      string        `json:"type"`
	Event     ActivityBatch `json:"event"`
}

// ActivityBatch groups the transfers observed on one network.
type ActivityBatch struct {
	Network  string     `json:"network"`
	Activity []Activity `json:"activity"`
	Source   string     `json:"source,omitempty"`
}

// Activity is a single transfer inside an InboundEvent.
type Activity struct {
	FromAddress string       `json:"fromAddress"`
	ToAddress   string       `json:"toAddress"`
	BlockNum    string       `json:"blockNum,omitempty"`
	Hash        string       `json:"hash"`
	Value       *float64     `json:"value,omitempty"`
	Asset       string       `json:"asset"`
	Category    string       `json:"category"`
	RawContract *RawContract `json:"rawContract,omitempty"`
	Log         *ActivityLog `json:"log,omitempty"`
}

type RawContract struct {
	RawValue string `json:"rawValue,omitempty"`
	Address  string `json:"address,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
}

type ActivityLog struct {
	Address         string `json:"address"`
	TransactionHash string `json:"transactionHash,omitempty"`
	LogIndex        string `json:"logIndex,omitempty"`
}

// TokenAddress returns the contract address of the transferred token, preferring
// the raw contract field over the log address, lowercased. Empty when neither is set.
func (a Activity) TokenAddress() string {
	if a.RawContract != nil && a.RawContract.Address != "" {
		return strings.ToLower(a.RawContract.Address)
	}
	if a.Log != nil && a.Log.Address != "" {
		return strings.ToLower(a.Log.Address)
	}
	return ""
}
