package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubscriptionRepo_NilPool(t *testing.T) {
	repo := NewSubscriptionRepo(nil, zap.NewNop())

	_, err := repo.FindActiveByWallet(context.Background(), "0xabc")
	assert.Error(t, err)
	_, err = repo.FindAllActive(context.Background())
	assert.Error(t, err)

	require.NoError(t, repo.RecordSpend(context.Background(), "sub-1", decimal.RequireFromString("0.1")),
		"spend bookkeeping is a no-op without postgres")
}

func TestExecutionLedger_NilInputs(t *testing.T) {
	ledger := NewExecutionLedger(nil, nil, "copytrader")
	require.NoError(t, ledger.Record(context.Background(), nil))
	assert.Equal(t, "copytrader", ledger.source)
}

func TestNewPGPool_InvalidURL(t *testing.T) {
	_, err := NewPGPool(context.Background(), "://bad", PGPoolConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pg config")
}
