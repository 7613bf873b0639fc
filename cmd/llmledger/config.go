// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/services"
	"github.com/shopspring/decimal"
)

// parseQuotas parses entries of the form "period:tokens=N,cost=USD". Either
// limit may be omitted; a period may only be configured once.
func parseQuotas(specs []string) (map[llmledger.Period]services.Quota, error) {
	quotas := make(map[llmledger.Period]services.Quota, len(specs))
	for _, spec := range specs {
		rawPeriod, rawLimits, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok {
			return nil, fmt.Errorf("quota %q must have the form period:tokens=N,cost=USD", spec)
		}
		period, err := llmledger.ParsePeriod(rawPeriod)
		if err != nil {
			return nil, fmt.Errorf("quota %q: %w", spec, err)
		}
		if _, dup := quotas[period]; dup {
			return nil, fmt.Errorf("quota for period %s is configured twice", period)
		}

		var quota services.Quota
		for _, part := range strings.Split(rawLimits, ",") {
			name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				return nil, fmt.Errorf("quota %q: limit %q must be name=value", spec, part)
			}
			switch strings.TrimSpace(name) {
			case "tokens":
				n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
				if err != nil || n <= 0 {
					return nil, fmt.Errorf("quota %q: tokens must be a positive integer", spec)
				}
				quota.Tokens = n
			case "cost":
				d, err := decimal.NewFromString(strings.TrimSpace(value))
				if err != nil || !d.IsPositive() {
					return nil, fmt.Errorf("quota %q: cost must be a positive amount", spec)
				}
				quota.CostUSD = d
			default:
				return nil, fmt.Errorf("quota %q: unknown limit %q", spec, name)
			}
		}
		quotas[period] = quota
	}
	return quotas, nil
}

// parseThresholds parses a comma separated list of positive fractions
func parseThresholds(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(raw, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("threshold %q must be a positive number", part)
		}
		out = append(out, f)
	}
	return out, nil
}
