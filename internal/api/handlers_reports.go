package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/josepht96/scoutrun/internal/report"
)

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TriggeredIn string  `json:"triggered_in"`
		TriggeredBy *string `json:"triggered_by"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if body.TriggeredBy == nil {
		body.TriggeredBy = triggeredBy(r)
	}

	rep, err := s.reports.Create(r.Context(), body.TriggeredIn, body.TriggeredBy)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// handleFinalizeReport seals a report. Supplied totals are stored verbatim,
// otherwise they are recomputed from the linked results.
func (s *Server) handleFinalizeReport(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReportID string         `json:"report_id"`
		Totals   *report.Totals `json:"totals"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if strings.TrimSpace(body.ReportID) == "" {
		writeError(w, s.logger, fmt.Errorf("%w: report_id is required", errBadRequest))
		return
	}
	if t := body.Totals; t != nil && (t.Passed < 0 || t.Failed < 0 || t.Blocked < 0) {
		writeError(w, s.logger, fmt.Errorf("%w: totals must not be negative", errBadRequest))
		return
	}

	rep, err := s.reports.Finalize(r.Context(), body.ReportID, body.Totals)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRecomputeReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Recompute(r.Context(), chi.URLParam(r, "report_id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reports.Get(r.Context(), chi.URLParam(r, "report_id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
