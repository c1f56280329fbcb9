package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const reportColumns = `id, report_id, triggered_in, triggered_by, total_passed, total_failed, total_blocked, started, finished`

// CreateReport inserts an automation report with started set to now. The
// caller supplies ReportID.
func (s *Storage) CreateReport(ctx context.Context, r *AutomationReport) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO automation_reports (report_id, triggered_in, triggered_by, started)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		r.ReportID, r.TriggeredIn, r.TriggeredBy, now,
	).Scan(&r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("report %s: %w", r.ReportID, ErrConflict)
		}
		return fmt.Errorf("failed to create report: %w", err)
	}
	r.Started = now
	r.Finished = nil
	return nil
}

// GetReport retrieves a report by its public report_id together with the
// results linked to it, oldest first.
func (s *Storage) GetReport(ctx context.Context, reportID string) (*AutomationReport, error) {
	var r AutomationReport
	err := s.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM automation_reports WHERE report_id = $1`, reportID,
	).Scan(&r.ID, &r.ReportID, &r.TriggeredIn, &r.TriggeredBy, &r.TotalPassed, &r.TotalFailed,
		&r.TotalBlocked, &r.Started, &r.Finished)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("report %s", reportID))
	}

	r.Results, err = s.listResults(ctx, `
		WHERE id IN (SELECT result_id FROM automation_report_results WHERE report_id = $1)
		ORDER BY created_at, id`, r.ID)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LinkResults appends results to a report. Links that already exist are
// kept as they are.
func (s *Storage) LinkResults(ctx context.Context, reportID string, resultIDs ...int64) error {
	if len(resultIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM automation_reports WHERE report_id = $1`, reportID).Scan(&id)
		if err != nil {
			return notFound(err, fmt.Sprintf("report %s", reportID))
		}

		ids := dedupeIDs(resultIDs)
		args := make([]any, len(ids))
		for i, rid := range ids {
			args[i] = rid
		}
		var found int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM run_results WHERE id IN (`+inPlaceholders(1, len(args))+`)`, args...,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("failed to check results: %w", err)
		}
		if found != len(ids) {
			return fmt.Errorf("linked results: %w", ErrNotFound)
		}

		linked, err := linkedResultIDs(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.now()
		for _, rid := range ids {
			if linked[rid] {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO automation_report_results (report_id, result_id, created_at)
				VALUES ($1, $2, $3)`, id, rid, now)
			if err != nil {
				return fmt.Errorf("failed to link result %d: %w", rid, err)
			}
		}
		return nil
	})
}

// ListVerdictRows returns the linked results of a report that reference a
// test case. Aggregation into verdicts is left to the caller.
func (s *Storage) ListVerdictRows(ctx context.Context, reportID string) ([]VerdictRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rr.id, rr.test_case_id, rr.status, rr.created_at
		FROM run_results rr
		JOIN automation_report_results arr ON arr.result_id = rr.id
		JOIN automation_reports ar ON ar.id = arr.report_id
		WHERE ar.report_id = $1 AND rr.test_case_id IS NOT NULL
		ORDER BY rr.created_at, rr.id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdict rows: %w", err)
	}
	defer rows.Close()

	var list []VerdictRow
	for rows.Next() {
		var v VerdictRow
		if err := rows.Scan(&v.ResultID, &v.TestCaseID, &v.Status, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

// UpdateReportTotals stores the totals of r. When finish is set, finished
// is stamped with now.
func (s *Storage) UpdateReportTotals(ctx context.Context, r *AutomationReport, finish bool) error {
	query := `UPDATE automation_reports SET total_passed = $1, total_failed = $2, total_blocked = $3 WHERE report_id = $4`
	args := []any{r.TotalPassed, r.TotalFailed, r.TotalBlocked, r.ReportID}
	now := s.now()
	if finish {
		query = `UPDATE automation_reports SET total_passed = $1, total_failed = $2, total_blocked = $3, finished = $4 WHERE report_id = $5`
		args = []any{r.TotalPassed, r.TotalFailed, r.TotalBlocked, now, r.ReportID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update report totals: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %s: %w", r.ReportID, ErrNotFound)
	}
	if finish {
		r.Finished = &now
	}
	return nil
}

func linkedResultIDs(ctx context.Context, q querier, reportPK int64) (map[int64]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT result_id FROM automation_report_results WHERE report_id = $1`, reportPK)
	if err != nil {
		return nil, fmt.Errorf("failed to query report links: %w", err)
	}
	defer rows.Close()

	linked := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan report link: %w", err)
		}
		linked[id] = true
	}
	return linked, rows.Err()
}

// dedupeIDs drops repeated ids, keeping first occurrences in order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
