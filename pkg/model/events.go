package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical event envelope for outcome events published to NATS.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// ExecutionOutcome is the terminal result of one copy-trade job attempt.
type ExecutionOutcome struct {
	JobID          uuid.UUID `json:"job_id"`
	SubscriptionID string    `json:"subscription_id"`
	AccountName    string    `json:"account_name"`
	Direction      Direction `json:"direction"`
	TokenAddress   string    `json:"token_address"`
	TokenSymbol    string    `json:"token_symbol"`
	Network        string    `json:"network"`
	SourceTxHash   string    `json:"source_tx_hash"`
	Status         string    `json:"status"` // executed | failed
	TxHash         string    `json:"tx_hash,omitempty"`
	BlockNumber    int64     `json:"block_number,omitempty"`
	FromAmount     string    `json:"from_amount,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	Permanent      bool      `json:"permanent,omitempty"`
	Attempt        int       `json:"attempt"`
	ExecutedAt     time.Time `json:"executed_at"`
}

const (
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
)
