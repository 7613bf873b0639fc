// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/shopspring/decimal"
)

// UsageQuery narrows a read over raw usage records. An explicit Start or End
// wins over Period; with neither, all records are read. Period alone selects
// the current bucket of that period.
type UsageQuery struct {
	Period llmledger.Period
	Start  time.Time
	End    time.Time
}

// UsageTotals are summed counters over a set of records
type UsageTotals struct {
	Requests         int64           `json:"totalRequests"`
	TotalTokens      int64           `json:"totalTokens"`
	PromptTokens     int64           `json:"promptTokens"`
	CompletionTokens int64           `json:"completionTokens"`
	CostUSD          decimal.Decimal `json:"totalCost"`
}

func (t *UsageTotals) add(record *llmledger.UsageRecord) {
	t.Requests++
	t.TotalTokens += record.TotalTokens
	t.PromptTokens += record.PromptTokens
	t.CompletionTokens += record.CompletionTokens
	t.CostUSD = t.CostUSD.Add(record.CostInUSD)
}

// ModelUsage is the share of usage attributed to one model
type ModelUsage struct {
	ModelSlug string `json:"modelSlug"`
	UsageTotals
}

// DailyUsage is one point of the daily usage series
type DailyUsage struct {
	Date string `json:"date"`
	UsageTotals
}

// UserUsage is a read-time aggregation over a user's raw usage records
type UserUsage struct {
	UserID string     `json:"userId"`
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	UsageTotals
	ByModel    []ModelUsage `json:"byModel"`
	DailyUsage []DailyUsage `json:"dailyUsage"`
}

// GetUserUsage scans the user's records within the query's range and computes
// totals, a per-model breakdown and a daily series. It has no side effects;
// slices are ordered by model slug and date respectively.
func (l *Ledger) GetUserUsage(ctx context.Context, userID string, query UsageQuery) (*UserUsage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, llmledger.NewValidationError("userId", "required")
	}
	start, end, err := l.resolveRange(query)
	if err != nil {
		return nil, err
	}

	records, err := l.options.Records.ListUsageRecordsByUser(ctx, userID, start, end)
	if err != nil {
		l.options.Logger.Error("Failed to list usage records", "error", err, "userID", userID)
		return nil, &llmledger.StoreError{Op: "list usage records", Err: err}
	}

	usage := &UserUsage{
		UserID:     userID,
		ByModel:    []ModelUsage{},
		DailyUsage: []DailyUsage{},
	}
	if !start.IsZero() {
		usage.Start = &start
	}
	if !end.IsZero() {
		usage.End = &end
	}

	byModel := make(map[string]*ModelUsage)
	byDay := make(map[string]*DailyUsage)
	for _, record := range records {
		usage.add(record)

		m, ok := byModel[record.ModelSlug]
		if !ok {
			m = &ModelUsage{ModelSlug: record.ModelSlug}
			byModel[record.ModelSlug] = m
		}
		m.add(record)

		day := record.PeriodKeys().Daily
		d, ok := byDay[day]
		if !ok {
			d = &DailyUsage{Date: day}
			byDay[day] = d
		}
		d.add(record)
	}

	for _, m := range byModel {
		usage.ByModel = append(usage.ByModel, *m)
	}
	slices.SortFunc(usage.ByModel, func(a, b ModelUsage) int { return cmp.Compare(a.ModelSlug, b.ModelSlug) })

	for _, d := range byDay {
		usage.DailyUsage = append(usage.DailyUsage, *d)
	}
	slices.SortFunc(usage.DailyUsage, func(a, b DailyUsage) int { return cmp.Compare(a.Date, b.Date) })

	return usage, nil
}

// UsageBreakdown splits a user's usage by who paid for it
type UsageBreakdown struct {
	UserID string      `json:"userId"`
	BYOK   UsageTotals `json:"byok"`
	System UsageTotals `json:"system"`
}

// GetUserUsageBreakdown splits the user's usage in range into completions made
// with their own provider keys and completions funded by the platform.
func (l *Ledger) GetUserUsageBreakdown(ctx context.Context, userID string, query UsageQuery) (*UsageBreakdown, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, llmledger.NewValidationError("userId", "required")
	}
	start, end, err := l.resolveRange(query)
	if err != nil {
		return nil, err
	}

	records, err := l.options.Records.ListUsageRecordsByUser(ctx, userID, start, end)
	if err != nil {
		l.options.Logger.Error("Failed to list usage records", "error", err, "userID", userID)
		return nil, &llmledger.StoreError{Op: "list usage records", Err: err}
	}

	breakdown := &UsageBreakdown{UserID: userID}
	for _, record := range records {
		if record.KeySource == llmledger.KeySourceBYOK {
			breakdown.BYOK.add(record)
		} else {
			breakdown.System.add(record)
		}
	}
	return breakdown, nil
}

// SystemUsage is a system-wide aggregate with its derived success rate
type SystemUsage struct {
	llmledger.UsageAggregate
	SuccessRate float64 `json:"successRate"`
}

// GetSystemUsage returns the newest limit system-wide aggregates of period,
// newest first.
func (l *Ledger) GetSystemUsage(ctx context.Context, period llmledger.Period, limit int) ([]SystemUsage, error) {
	if !period.Valid() {
		return nil, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", period))
	}
	if limit <= 0 {
		return nil, llmledger.NewValidationError("limit", "must be positive")
	}

	aggregates, err := l.options.Aggregates.ListSystemAggregates(ctx, period, limit)
	if err != nil {
		l.options.Logger.Error("Failed to list system aggregates", "error", err, "period", period)
		return nil, &llmledger.StoreError{Op: "list system aggregates", Err: err}
	}

	out := make([]SystemUsage, 0, len(aggregates))
	for _, agg := range aggregates {
		out = append(out, SystemUsage{UsageAggregate: *agg, SuccessRate: agg.SuccessRate()})
	}
	slices.SortStableFunc(out, func(a, b SystemUsage) int { return cmp.Compare(b.PeriodKey, a.PeriodKey) })
	return out, nil
}

// TopUser is a per-user aggregate joined with display information. User is
// nil when the profile is unknown.
type TopUser struct {
	llmledger.UsageAggregate
	User *llmledger.UserProfile `json:"user,omitempty"`
}

// GetTopUsersByUsage returns the heaviest users of the current bucket of
// period by total tokens. Users without usage in the bucket are absent.
func (l *Ledger) GetTopUsersByUsage(ctx context.Context, period llmledger.Period, limit int) ([]TopUser, error) {
	if !period.Valid() {
		return nil, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", period))
	}
	if limit <= 0 {
		return nil, llmledger.NewValidationError("limit", "must be positive")
	}

	periodKey := llmledger.CurrentPeriodKey(period, l.options.Now())
	aggregates, err := l.options.Aggregates.ListUserAggregates(ctx, period, periodKey, limit)
	if err != nil {
		l.options.Logger.Error("Failed to list user aggregates", "error", err, "period", period, "periodKey", periodKey)
		return nil, &llmledger.StoreError{Op: "list user aggregates", Err: err}
	}
	slices.SortStableFunc(aggregates, func(a, b *llmledger.UsageAggregate) int {
		if c := cmp.Compare(b.TotalTokens, a.TotalTokens); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if len(aggregates) > limit {
		aggregates = aggregates[:limit]
	}

	ids := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		ids = append(ids, agg.UserID)
	}
	users, err := l.options.Users.GetByIDs(ctx, ids)
	if err != nil {
		l.options.Logger.Error("Failed to resolve user profiles", "error", err)
		return nil, &llmledger.StoreError{Op: "get users", Err: err}
	}

	out := make([]TopUser, 0, len(aggregates))
	for _, agg := range aggregates {
		top := TopUser{UsageAggregate: *agg}
		if user, ok := users[agg.UserID]; ok {
			profile := user.Profile()
			top.User = &profile
		}
		out = append(out, top)
	}
	return out, nil
}

// GetUserPeriodTotals returns the user's cumulative aggregate for the bucket
// of period containing at. A user without usage gets a zero aggregate.
func (l *Ledger) GetUserPeriodTotals(ctx context.Context, userID string, period llmledger.Period, at time.Time) (*llmledger.UsageAggregate, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, llmledger.NewValidationError("userId", "required")
	}
	if !period.Valid() {
		return nil, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", period))
	}
	if at.IsZero() {
		at = l.options.Now()
	}

	key := llmledger.AggregateKey{Period: period, PeriodKey: llmledger.CurrentPeriodKey(period, at), UserID: userID}
	agg, err := l.options.Aggregates.GetAggregate(ctx, key)
	if errors.Is(err, llmledger.ErrNotFound) {
		return &llmledger.UsageAggregate{AggregateKey: key}, nil
	}
	if err != nil {
		l.options.Logger.Error("Failed to get usage aggregate", "error", err, "aggregate", key.String())
		return nil, &llmledger.StoreError{Op: "get usage aggregate", Err: err}
	}
	return agg, nil
}

// resolveRange turns a query into inclusive bounds; zero means open.
func (l *Ledger) resolveRange(query UsageQuery) (time.Time, time.Time, error) {
	start, end := query.Start, query.End
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return time.Time{}, time.Time{}, llmledger.NewValidationError("start", "must not be after end")
	}
	if !start.IsZero() || !end.IsZero() || query.Period == "" {
		return start, end, nil
	}
	if !query.Period.Valid() {
		return time.Time{}, time.Time{}, llmledger.NewValidationError("period", fmt.Sprintf("unknown period %q", query.Period))
	}
	return llmledger.PeriodRange(query.Period, llmledger.CurrentPeriodKey(query.Period, l.options.Now()))
}
