// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MadsRC/llmledger"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateRequest checks v's validate tags and reports the first failure as
// a [llmledger.ValidationError] named after the JSON field.
func validateRequest(v any) error {
	err := requestValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return llmledger.NewValidationError("body", err.Error())
	}
	fe := fieldErrs[0]
	reason := fe.Tag()
	switch fe.Tag() {
	case "required":
		reason = "required"
	case "oneof":
		reason = "must be one of " + fe.Param()
	case "max":
		reason = "must be at most " + fe.Param() + " characters"
	case "gte":
		reason = "must be at least " + fe.Param()
	case "email", "url":
		reason = "must be a valid " + fe.Tag()
	}
	return llmledger.NewValidationError(fe.Field(), reason)
}

const dateLayout = "2006-01-02"

// parseTimeParam reads an RFC3339 timestamp or a YYYY-MM-DD date from the
// query. A bare date used as an end bound covers the whole day.
func parseTimeParam(r *http.Request, name string, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, llmledger.NewValidationError(name, "must be RFC3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}

// parseLimit reads a positive integer, clamping it to max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, llmledger.NewValidationError("limit", "must be a positive integer")
	}
	return min(n, max), nil
}

// parsePeriod reads the period query parameter, falling back to def.
func parsePeriod(r *http.Request, def llmledger.Period) (llmledger.Period, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("period"))
	if raw == "" {
		return def, nil
	}
	return llmledger.ParsePeriod(raw)
}
