// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !integration && !acceptance

package llmledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDerivePeriodKeys(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
		want      PeriodKeys
	}{
		{
			name:      "Last millisecond of 2024",
			timestamp: "2024-12-31T23:59:59.999Z",
			want:      PeriodKeys{Daily: "2024-12-31", Weekly: "2025-W01", Monthly: "2024-12"},
		},
		{
			name:      "First instant of 2025",
			timestamp: "2025-01-01T00:00:00.000Z",
			want:      PeriodKeys{Daily: "2025-01-01", Weekly: "2025-W01", Monthly: "2025-01"},
		},
		{
			name:      "Monday opening ISO week one",
			timestamp: "2024-12-30T08:00:00Z",
			want:      PeriodKeys{Daily: "2024-12-30", Weekly: "2025-W01", Monthly: "2024-12"},
		},
		{
			name:      "Sunday closing ISO week 52",
			timestamp: "2024-12-29T23:59:59.999Z",
			want:      PeriodKeys{Daily: "2024-12-29", Weekly: "2024-W52", Monthly: "2024-12"},
		},
		{
			name:      "Early January belonging to previous week-year",
			timestamp: "2021-01-03T12:00:00Z",
			want:      PeriodKeys{Daily: "2021-01-03", Weekly: "2020-W53", Monthly: "2021-01"},
		},
		{
			name:      "Offset timestamp is read in UTC",
			timestamp: "2025-03-01T01:30:00+02:00",
			want:      PeriodKeys{Daily: "2025-02-28", Weekly: "2025-W09", Monthly: "2025-02"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := mustParseTime(tt.timestamp)
			got := DerivePeriodKeys(ts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, DerivePeriodKeys(ts), "derivation must be deterministic")
		})
	}
}

func TestPeriodKeys_For(t *testing.T) {
	keys := PeriodKeys{Daily: "2025-01-01", Weekly: "2025-W01", Monthly: "2025-01"}

	assert.Equal(t, "2025-01-01", keys.For(PeriodDaily))
	assert.Equal(t, "2025-W01", keys.For(PeriodWeekly))
	assert.Equal(t, "2025-01", keys.For(PeriodMonthly))
	assert.Equal(t, "", keys.For(Period("hourly")))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeekly, p)

	_, err = ParsePeriod("yearly")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPeriodRange(t *testing.T) {
	tests := []struct {
		name      string
		period    Period
		key       string
		wantStart string
		wantEnd   string
	}{
		{
			name:      "Daily",
			period:    PeriodDaily,
			key:       "2024-02-29",
			wantStart: "2024-02-29T00:00:00Z",
			wantEnd:   "2024-02-29T23:59:59.999999999Z",
		},
		{
			name:      "Weekly spanning year boundary",
			period:    PeriodWeekly,
			key:       "2025-W01",
			wantStart: "2024-12-30T00:00:00Z",
			wantEnd:   "2025-01-05T23:59:59.999999999Z",
		},
		{
			name:      "Week 53",
			period:    PeriodWeekly,
			key:       "2020-W53",
			wantStart: "2020-12-28T00:00:00Z",
			wantEnd:   "2021-01-03T23:59:59.999999999Z",
		},
		{
			name:      "Monthly",
			period:    PeriodMonthly,
			key:       "2025-02",
			wantStart: "2025-02-01T00:00:00Z",
			wantEnd:   "2025-02-28T23:59:59.999999999Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := PeriodRange(tt.period, tt.key)
			require.NoError(t, err)
			assert.True(t, mustParseTime(tt.wantStart).Equal(start), "start: %s", start)
			assert.True(t, mustParseTime(tt.wantEnd).Equal(end), "end: %s", end)

			// Both ends of the range must map back onto the same key.
			assert.Equal(t, tt.key, DerivePeriodKeys(start).For(tt.period))
			assert.Equal(t, tt.key, DerivePeriodKeys(end).For(tt.period))
		})
	}
}

func TestPeriodRange_Malformed(t *testing.T) {
	cases := map[Period][]string{
		PeriodDaily:   {"2025-13-01", "20250101", ""},
		PeriodWeekly:  {"2025-01", "2025-W00", "2025-W54", "2021-W53", "25-W01"},
		PeriodMonthly: {"2025-1", "2025-00"},
	}
	for period, keys := range cases {
		for _, key := range keys {
			_, _, err := PeriodRange(period, key)
			assert.ErrorIs(t, err, ErrValidation, "%s %q", period, key)
		}
	}

	_, _, err := PeriodRange(Period("hourly"), "2025-01-01")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCurrentPeriodKey(t *testing.T) {
	now := mustParseTime("2025-06-15T10:00:00Z")
	assert.Equal(t, "2025-06-15", CurrentPeriodKey(PeriodDaily, now))
	assert.Equal(t, "2025-W24", CurrentPeriodKey(PeriodWeekly, now))
	assert.Equal(t, "2025-06", CurrentPeriodKey(PeriodMonthly, now))
}
