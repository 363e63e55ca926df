package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopkit/loom/pkg/models"
)

func testContext() models.Context {
	return models.Context{
		"request": map[string]any{
			"amount":   1500.0,
			"currency": "EUR",
			"tags":     []any{"priority", "b2b"},
		},
		"approved": true,
		"comment":  "looks fine to me",
	}
}

func TestEvaluateLeafComparisons(t *testing.T) {
	tests := []struct {
		name       string
		expression map[string]any
		expected   bool
	}{
		{
			name:       "equals matches",
			expression: map[string]any{"field": "request.currency", "op": OpEquals, "value": "EUR"},
			expected:   true,
		},
		{
			name:       "equals across numeric types",
			expression: map[string]any{"field": "request.amount", "op": OpEquals, "value": 1500},
			expected:   true,
		},
		{
			name:       "not_equals on missing field",
			expression: map[string]any{"field": "request.missing", "op": OpNotEquals, "value": "x"},
			expected:   true,
		},
		{
			name:       "greater_than",
			expression: map[string]any{"field": "request.amount", "op": OpGreaterThan, "value": 1000},
			expected:   true,
		},
		{
			name:       "greater_than_or_equal boundary",
			expression: map[string]any{"field": "request.amount", "op": OpGreaterThanOrEqual, "value": 1500},
			expected:   true,
		},
		{
			name:       "less_than fails",
			expression: map[string]any{"field": "request.amount", "op": OpLessThan, "value": 1000},
			expected:   false,
		},
		{
			name:       "less_than on missing field",
			expression: map[string]any{"field": "request.missing", "op": OpLessThan, "value": 10},
			expected:   false,
		},
		{
			name:       "contains in string",
			expression: map[string]any{"field": "comment", "op": OpContains, "value": "fine"},
			expected:   true,
		},
		{
			name:       "contains in array",
			expression: map[string]any{"field": "request.tags", "op": OpContains, "value": "b2b"},
			expected:   true,
		},
		{
			name:       "exists",
			expression: map[string]any{"field": "approved", "op": OpExists},
			expected:   true,
		},
		{
			name:       "exists on missing field",
			expression: map[string]any{"field": "rejected", "op": OpExists},
			expected:   false,
		},
		{
			name:       "in",
			expression: map[string]any{"field": "request.currency", "op": OpIn, "value": []any{"USD", "EUR"}},
			expected:   true,
		},
		{
			name:       "in misses",
			expression: map[string]any{"field": "request.currency", "op": OpIn, "value": []any{"USD", "GBP"}},
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(tt.expression, testContext())

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluateComposites(t *testing.T) {
	amountHigh := map[string]any{"field": "request.amount", "op": OpGreaterThan, "value": 1000}
	isUSD := map[string]any{"field": "request.currency", "op": OpEquals, "value": "USD"}

	and := map[string]any{"operator": "and", "conditions": []any{amountHigh, isUSD}}
	or := map[string]any{"operator": "or", "conditions": []any{amountHigh, isUSD}}
	not := map[string]any{"operator": "not", "conditions": []any{isUSD}}

	ctx := testContext()

	result, err := Evaluate(and, ctx)
	require.NoError(t, err)
	assert.False(t, result)

	result, err = Evaluate(or, ctx)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = Evaluate(not, ctx)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateNestedComposite(t *testing.T) {
	expression := map[string]any{
		"operator": "or",
		"conditions": []any{
			map[string]any{"field": "request.currency", "op": OpEquals, "value": "USD"},
			map[string]any{
				"operator": "and",
				"conditions": []any{
					map[string]any{"field": "approved", "op": OpEquals, "value": true},
					map[string]any{"field": "request.amount", "op": OpLessThanOrEqual, "value": 2000},
				},
			},
		},
	}

	result, err := Evaluate(expression, testContext())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateEmptyExpressionIsTrue(t *testing.T) {
	result, err := Evaluate(nil, testContext())

	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name       string
		expression map[string]any
	}{
		{
			name:       "unknown logical operator",
			expression: map[string]any{"operator": "xor", "conditions": []any{}},
		},
		{
			name:       "not with two conditions",
			expression: map[string]any{"operator": "not", "conditions": []any{map[string]any{}, map[string]any{}}},
		},
		{
			name:       "missing field key",
			expression: map[string]any{"op": OpEquals, "value": 1},
		},
		{
			name:       "missing op key",
			expression: map[string]any{"field": "approved"},
		},
		{
			name:       "unknown comparison operator",
			expression: map[string]any{"field": "approved", "op": "matches", "value": 1},
		},
		{
			name:       "numeric comparison against non-number",
			expression: map[string]any{"field": "comment", "op": OpGreaterThan, "value": 10},
		},
		{
			name:       "in with scalar value",
			expression: map[string]any{"field": "approved", "op": OpIn, "value": "USD"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expression, testContext())

			assert.Error(t, err)
		})
	}
}

func TestLookup(t *testing.T) {
	ctx := testContext()

	value, found := Lookup(ctx, "request.amount")
	require.True(t, found)
	assert.Equal(t, 1500.0, value)

	_, found = Lookup(ctx, "request.amount.cents")
	assert.False(t, found)

	_, found = Lookup(ctx, "nope")
	assert.False(t, found)
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("yes"))
	assert.True(t, Truthy("true"))
	assert.True(t, Truthy(1.0))
	assert.True(t, Truthy([]any{1}))

	assert.False(t, Truthy(false))
	assert.False(t, Truthy("false"))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(nil))
}
