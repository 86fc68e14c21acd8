package costledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelPricing_CalculateCost(t *testing.T) {
	pricing := ModelPricing{Model: "test-model", InputPricePerMillion: 3.0, OutputPricePerMillion: 15.0}

	t.Run("million-scale usage", func(t *testing.T) {
		inputCost, outputCost := pricing.CalculateCost(TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000})
		assert.InDelta(t, 3.0, inputCost, 0.001)
		assert.InDelta(t, 7.5, outputCost, 0.001)
	})

	t.Run("small usage", func(t *testing.T) {
		inputCost, outputCost := pricing.CalculateCost(TokenUsage{InputTokens: 1000, OutputTokens: 500})
		assert.InDelta(t, 0.003, inputCost, 0.0001)
		assert.InDelta(t, 0.0075, outputCost, 0.0001)
	})
}

func TestTokenUsage_Total(t *testing.T) {
	assert.Equal(t, 150, TokenUsage{InputTokens: 100, OutputTokens: 50}.Total())
}

func TestLedger_Record(t *testing.T) {
	l, err := New(nil, "sqlite", 10.0, 0.8, nil)
	require.NoError(t, err)

	cost, err := l.Record(context.Background(), "anthropic/claude-sonnet-4-20250514", TokenUsage{InputTokens: 1000, OutputTokens: 500}, "test-context")
	require.NoError(t, err)

	assert.NotEmpty(t, cost.ID)
	assert.InDelta(t, 0.003, cost.InputCostUSD, 0.0001)
	assert.InDelta(t, 0.0075, cost.OutputCostUSD, 0.0001)
	assert.InDelta(t, cost.TotalCostUSD(), l.TodayTotal(), 0.0001)
}

func TestLedger_UnknownModelIsZeroCost(t *testing.T) {
	l, err := New(nil, "sqlite", 10.0, 0.8, nil)
	require.NoError(t, err)

	cost, err := l.Record(context.Background(), "unknown/model", TokenUsage{InputTokens: 1000, OutputTokens: 500}, "")
	require.NoError(t, err)
	assert.Zero(t, cost.TotalCostUSD())
}

func TestLedger_BudgetThresholds(t *testing.T) {
	l, err := New(nil, "sqlite", 1.0, 0.5, nil)
	require.NoError(t, err)

	// 1M input tokens of the sonnet model costs exactly $3, well past the
	// $1 daily limit in one call.
	_, err = l.Record(context.Background(), "anthropic/claude-sonnet-4-20250514", TokenUsage{InputTokens: 1_000_000}, "")
	require.NoError(t, err)

	assert.True(t, l.IsApproachingLimit())
	assert.True(t, l.IsOverLimit())
	assert.Zero(t, l.RemainingBudget())
}

func TestLedger_RemainingBudgetNeverNegative(t *testing.T) {
	l, err := New(nil, "sqlite", 0.001, 0.8, nil)
	require.NoError(t, err)

	_, err = l.Record(context.Background(), "anthropic/claude-opus-4-20250514", TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, "")
	require.NoError(t, err)

	assert.Equal(t, 0.0, l.RemainingBudget())
}

func TestLedger_ClearResetsInMemoryState(t *testing.T) {
	l, err := New(nil, "sqlite", 10.0, 0.8, nil)
	require.NoError(t, err)

	_, err = l.Record(context.Background(), "openai/gpt-4o", TokenUsage{InputTokens: 100, OutputTokens: 50}, "")
	require.NoError(t, err)
	require.NotZero(t, l.TodayTotal())

	l.Clear()
	assert.Zero(t, l.TodayTotal())
	assert.Empty(t, l.Records())
}
