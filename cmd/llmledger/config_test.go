// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package main

import (
	"testing"

	"github.com/MadsRC/llmledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuotas(t *testing.T) {
	quotas, err := parseQuotas([]string{"monthly:tokens=2000000,cost=25.50", "Daily:tokens=100000"})
	require.NoError(t, err)
	require.Len(t, quotas, 2)

	monthly := quotas[llmledger.PeriodMonthly]
	assert.Equal(t, int64(2000000), monthly.Tokens)
	assert.Equal(t, "25.5", monthly.CostUSD.String())

	daily := quotas[llmledger.PeriodDaily]
	assert.Equal(t, int64(100000), daily.Tokens)
	assert.True(t, daily.CostUSD.IsZero())

	empty, err := parseQuotas(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseQuotas_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec []string
	}{
		{"missing period", []string{"tokens=5"}},
		{"unknown period", []string{"yearly:tokens=5"}},
		{"negative tokens", []string{"daily:tokens=-5"}},
		{"zero cost", []string{"daily:cost=0"}},
		{"unknown limit", []string{"daily:requests=5"}},
		{"malformed limit", []string{"daily:tokens"}},
		{"duplicate period", []string{"daily:tokens=5", "daily:cost=1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuotas(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestParseThresholds(t *testing.T) {
	got, err := parseThresholds("0.5, 0.9,1")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.9, 1}, got)

	got, err = parseThresholds("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseThresholds("0.5,abc")
	assert.Error(t, err)
	_, err = parseThresholds("-1")
	assert.Error(t, err)
}
