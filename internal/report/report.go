// Package report aggregates linked run results into automation reports
// with one verdict per test case.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/josepht96/scoutrun/internal/storage"
)

// IDLength is the length of a generated report_id.
const IDLength = 12

// createAttempts bounds retries when a generated report_id collides.
const createAttempts = 3

// Store is the persistence the reporter needs.
type Store interface {
	CreateReport(ctx context.Context, r *storage.AutomationReport) error
	GetReport(ctx context.Context, reportID string) (*storage.AutomationReport, error)
	ListVerdictRows(ctx context.Context, reportID string) ([]storage.VerdictRow, error)
	UpdateReportTotals(ctx context.Context, r *storage.AutomationReport, finish bool) error
}

// Observer is told about every report whose totals were written.
type Observer interface {
	ObserveReport(r *storage.AutomationReport)
}

// Totals are the verdict counts of a report.
type Totals struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

// Service creates, recomputes and finalizes automation reports.
type Service struct {
	store    Store
	observer Observer
	logger   *slog.Logger
	newID    func() string
}

// NewService creates a report service. observer may be nil.
func NewService(store Store, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, observer: observer, logger: logger, newID: NewReportID}
}

// NewReportID returns a random lowercase hex id of IDLength characters.
func NewReportID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// Create starts a report with a fresh report_id and started = now.
func (s *Service) Create(ctx context.Context, triggeredIn string, triggeredBy *string) (*storage.AutomationReport, error) {
	var err error
	for i := 0; i < createAttempts; i++ {
		r := &storage.AutomationReport{
			ReportID:    s.newID(),
			TriggeredIn: triggeredIn,
			TriggeredBy: triggeredBy,
		}
		if err = s.store.CreateReport(ctx, r); err == nil {
			s.logger.Info("report created", "report_id", r.ReportID, "triggered_in", triggeredIn)
			return r, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to allocate report id: %w", err)
}

// Get returns a report with its linked results.
func (s *Service) Get(ctx context.Context, reportID string) (*storage.AutomationReport, error) {
	return s.store.GetReport(ctx, reportID)
}

// Recompute writes freshly computed totals without finishing the report.
// It is idempotent while the linked results are unchanged.
func (s *Service) Recompute(ctx context.Context, reportID string) (*storage.AutomationReport, error) {
	return s.write(ctx, reportID, nil, false)
}

// Finalize writes totals and stamps finished = now. Explicit totals are
// stored verbatim; otherwise they are computed from the linked results.
func (s *Service) Finalize(ctx context.Context, reportID string, explicit *Totals) (*storage.AutomationReport, error) {
	return s.write(ctx, reportID, explicit, true)
}

func (s *Service) write(ctx context.Context, reportID string, explicit *Totals, finish bool) (*storage.AutomationReport, error) {
	r, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	totals := explicit
	if totals == nil {
		rows, err := s.store.ListVerdictRows(ctx, reportID)
		if err != nil {
			return nil, err
		}
		computed := Tally(rows)
		totals = &computed
	}

	r.TotalPassed, r.TotalFailed, r.TotalBlocked = totals.Passed, totals.Failed, totals.Blocked
	if err := s.store.UpdateReportTotals(ctx, r, finish); err != nil {
		return nil, err
	}
	s.logger.Info("report totals written",
		"report_id", reportID,
		"passed", r.TotalPassed,
		"failed", r.TotalFailed,
		"blocked", r.TotalBlocked,
		"finalized", finish,
		"explicit", explicit != nil,
	)
	if s.observer != nil {
		s.observer.ObserveReport(r)
	}
	return r, nil
}

// Tally picks the latest row per test case, by created_at then result id,
// and counts it as passed, failed or blocked.
func Tally(rows []storage.VerdictRow) Totals {
	latest := make(map[int64]storage.VerdictRow)
	for _, row := range rows {
		cur, ok := latest[row.TestCaseID]
		if !ok || row.CreatedAt.After(cur.CreatedAt) ||
			(row.CreatedAt.Equal(cur.CreatedAt) && row.ResultID > cur.ResultID) {
			latest[row.TestCaseID] = row
		}
	}

	var t Totals
	for _, row := range latest {
		switch row.Status {
		case storage.ResultPassed:
			t.Passed++
		case storage.ResultFailed:
			t.Failed++
		default:
			t.Blocked++
		}
	}
	return t
}
