// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package llmledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is the granularity of a usage aggregate bucket
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Periods lists every aggregate period in ascending length.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// Valid reports whether p is one of the known periods
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

func (p Period) String() string {
	return string(p)
}

// ParsePeriod parses a period name, case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewValidationError("period", fmt.Sprintf("unknown period %q", s))
	}
	return p, nil
}

// PeriodKeys holds the canonical bucket keys of a single instant
type PeriodKeys struct {
	Daily   string `json:"daily"`
	Weekly  string `json:"weekly"`
	Monthly string `json:"monthly"`
}

// For returns the key of the given period.
func (k PeriodKeys) For(p Period) string {
	switch p {
	case PeriodDaily:
		return k.Daily
	case PeriodWeekly:
		return k.Weekly
	case PeriodMonthly:
		return k.Monthly
	}
	return ""
}

// DerivePeriodKeys maps an instant to its daily (YYYY-MM-DD), ISO-8601 weekly
// (YYYY-Www) and monthly (YYYY-MM) bucket keys. The instant is read in UTC.
func DerivePeriodKeys(t time.Time) PeriodKeys {
	t = t.UTC()
	isoYear, isoWeek := t.ISOWeek()
	return PeriodKeys{
		Daily:   t.Format("2006-01-02"),
		Weekly:  fmt.Sprintf("%04d-W%02d", isoYear, isoWeek),
		Monthly: t.Format("2006-01"),
	}
}

// CurrentPeriodKey returns the key of the bucket containing now.
func CurrentPeriodKey(p Period, now time.Time) string {
	return DerivePeriodKeys(now).For(p)
}

// PeriodRange returns the first and last instant (inclusive, nanosecond
// resolution) covered by the bucket identified by key.
func PeriodRange(p Period, key string) (start, end time.Time, err error) {
	switch p {
	case PeriodDaily:
		start, err = time.ParseInLocation("2006-01-02", key, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, NewValidationError("periodKey", fmt.Sprintf("malformed daily key %q", key))
		}
		end = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	case PeriodWeekly:
		start, err = isoWeekStart(key)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = start.AddDate(0, 0, 7).Add(-time.Nanosecond)
	case PeriodMonthly:
		start, err = time.ParseInLocation("2006-01", key, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, NewValidationError("periodKey", fmt.Sprintf("malformed monthly key %q", key))
		}
		end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	default:
		return time.Time{}, time.Time{}, NewValidationError("period", fmt.Sprintf("unknown period %q", p))
	}
	return start, end, nil
}

// isoWeekStart returns Monday 00:00 UTC of an ISO week key such as 2025-W01.
func isoWeekStart(key string) (time.Time, error) {
	malformed := NewValidationError("periodKey", fmt.Sprintf("malformed weekly key %q", key))

	yearPart, weekPart, ok := strings.Cut(key, "-W")
	if !ok || len(yearPart) != 4 || len(weekPart) != 2 {
		return time.Time{}, malformed
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return time.Time{}, malformed
	}
	week, err := strconv.Atoi(weekPart)
	if err != nil || week < 1 || week > 53 {
		return time.Time{}, malformed
	}

	// January 4th always falls in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	start := jan4.AddDate(0, 0, -offset+(week-1)*7)

	if y, w := start.ISOWeek(); y != year || w != week {
		return time.Time{}, malformed
	}
	return start, nil
}
