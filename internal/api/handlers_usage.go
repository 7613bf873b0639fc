// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package api

import (
	"net/http"

	"github.com/MadsRC/llmledger"
	"github.com/MadsRC/llmledger/internal/ledger"
	"github.com/go-chi/chi/v5"
)

const (
	defaultSystemUsageLimit = 30
	maxSystemUsageLimit     = 365
	defaultTopUsersLimit    = 10
	maxTopUsersLimit        = 100
)

type recordUsageResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleRecordUsage(w http.ResponseWriter, r *http.Request) {
	var input ledger.UsageInput
	if err := decodeJSON(r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.options.Ledger.RecordUsage(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, recordUsageResponse{ID: id})
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var input ledger.ActivityInput
	if err := decodeJSON(r, &input); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.options.Ledger.RecordActivity(r.Context(), input); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// usageQuery reads start, end and period from the query string.
func usageQuery(r *http.Request) (ledger.UsageQuery, error) {
	start, err := parseTimeParam(r, "start", false)
	if err != nil {
		return ledger.UsageQuery{}, err
	}
	end, err := parseTimeParam(r, "end", true)
	if err != nil {
		return ledger.UsageQuery{}, err
	}
	period, err := parsePeriod(r, "")
	if err != nil {
		return ledger.UsageQuery{}, err
	}
	return ledger.UsageQuery{Period: period, Start: start, End: end}, nil
}

func (s *Server) handleUserUsage(w http.ResponseWriter, r *http.Request) {
	query, err := usageQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	usage, err := s.options.Ledger.GetUserUsage(r.Context(), chi.URLParam(r, "userID"), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleUserUsageBreakdown(w http.ResponseWriter, r *http.Request) {
	query, err := usageQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	breakdown, err := s.options.Ledger.GetUserUsageBreakdown(r.Context(), chi.URLParam(r, "userID"), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleUserPeriodTotals(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r, llmledger.PeriodMonthly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	at, err := parseTimeParam(r, "at", false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	totals, err := s.options.Ledger.GetUserPeriodTotals(r.Context(), chi.URLParam(r, "userID"), period, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleUserQuotaAlerts(w http.ResponseWriter, r *http.Request) {
	if s.options.QuotaMonitor == nil {
		s.notConfigured(w, "quota monitoring")
		return
	}
	period, err := parsePeriod(r, llmledger.PeriodMonthly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status, err := s.options.QuotaMonitor.Evaluate(r.Context(), chi.URLParam(r, "userID"), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSystemUsage(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r, llmledger.PeriodDaily)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r, defaultSystemUsageLimit, maxSystemUsageLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	usage, err := s.options.Ledger.GetSystemUsage(r.Context(), period, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleTopUsers(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r, llmledger.PeriodMonthly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r, defaultTopUsersLimit, maxTopUsersLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users, err := s.options.Ledger.GetTopUsersByUsage(r.Context(), period, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, users)
}
