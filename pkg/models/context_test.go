package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDeepMergesNestedMaps(t *testing.T) {
	base := Context{
		"request": map[string]any{
			"amount":   100.0,
			"currency": "EUR",
		},
		"step": 1,
	}

	merged := base.Merge(Context{
		"request": map[string]any{
			"amount": 200.0,
		},
		"approved": true,
	})

	request, ok := merged["request"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, 200.0, request["amount"])
	assert.Equal(t, "EUR", request["currency"])
	assert.Equal(t, 1, merged["step"])
	assert.Equal(t, true, merged["approved"])
}

func TestMergeReplacesNonMapValues(t *testing.T) {
	base := Context{"tags": []any{"a"}}

	merged := base.Merge(Context{"tags": []any{"b", "c"}})

	assert.Equal(t, []any{"b", "c"}, merged["tags"])
}

func TestMergeIntoNilAllocates(t *testing.T) {
	var base Context

	merged := base.Merge(Context{"key": "value"})

	require.NotNil(t, merged)
	assert.Equal(t, "value", merged["key"])
}

func TestCloneIsolatesNestedMaps(t *testing.T) {
	original := Context{
		"request": map[string]any{"amount": 100.0},
	}

	clone := original.Clone()
	clone["request"].(map[string]any)["amount"] = 999.0

	assert.Equal(t, 100.0, original["request"].(map[string]any)["amount"])
}

func TestCloneNil(t *testing.T) {
	var c Context

	assert.Nil(t, c.Clone())
}

func TestReservedKeys(t *testing.T) {
	assert.Equal(t, "_gateway_decisions:gw-1", GatewayHistoryKey("gw-1"))
	assert.Equal(t, "_join_arrivals:join-1", JoinArrivalsKey("join-1"))
	assert.Equal(t, "_timer_wait:timer-1", TimerWaitKey("timer-1"))
}
