package storage

import (
	"context"
	"fmt"

	"github.com/josepht96/scoutrun/internal/assertion"
)

const runColumns = `id, collection_id, environment_id, triggered_by, status,
	total_requests, passed_requests, failed_requests, error_requests,
	started_at, finished_at, created_at`

const resultColumns = `id, run_id, request_id, test_case_id, sort_order, status, response_status,
	response_headers, response_body, response_time_ms, assertions_passed, assertions_failed,
	error, created_at`

// CreateRun inserts a run in the running state with started_at set to now.
func (s *Storage) CreateRun(ctx context.Context, run *Run) error {
	now := s.now()
	query := `
		INSERT INTO runs (collection_id, environment_id, triggered_by, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		run.CollectionID, run.EnvironmentID, run.TriggeredBy, RunRunning, now, now,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	run.Status = RunRunning
	run.StartedAt, run.CreatedAt = now, now
	run.FinishedAt = nil
	run.Summary = Summary{}
	return nil
}

// FinalizeRun seals a run with its summary, terminal status and finished_at.
func (s *Storage) FinalizeRun(ctx context.Context, run *Run) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, total_requests = $2, passed_requests = $3, failed_requests = $4,
			error_requests = $5, finished_at = $6
		WHERE id = $7`,
		run.Status, run.Summary.TotalRequests, run.Summary.PassedRequests,
		run.Summary.FailedRequests, run.Summary.ErrorRequests, now, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", run.ID, ErrNotFound)
	}
	run.FinishedAt = &now
	return nil
}

// GetRun retrieves a run with its results ordered by (order, id).
func (s *Storage) GetRun(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("run %d", id))
	}

	run.Results, err = s.listResults(ctx, `WHERE run_id = $1 ORDER BY sort_order, id`, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves the most recent runs without their results.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.CollectionID, &run.EnvironmentID, &run.TriggeredBy, &run.Status,
		&run.Summary.TotalRequests, &run.Summary.PassedRequests, &run.Summary.FailedRequests,
		&run.Summary.ErrorRequests, &run.StartedAt, &run.FinishedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CreateResult inserts a result in the error state. It is written before
// the HTTP call so a crash mid-request still leaves a row behind.
func (s *Storage) CreateResult(ctx context.Context, r *Result) error {
	r.Status = ResultError
	cols, err := resultValues(r)
	if err != nil {
		return err
	}

	now := s.now()
	args := append([]any{r.RunID, r.RequestID, r.TestCaseID, r.Order}, cols...)
	args = append(args, now)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO run_results (run_id, request_id, test_case_id, sort_order, status, response_status,
			response_headers, response_body, response_time_ms, assertions_passed, assertions_failed,
			error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`, args...,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("failed to create result: %w", err)
	}
	r.CreatedAt = now
	return nil
}

// UpdateResult writes the outcome of a result in place.
func (s *Storage) UpdateResult(ctx context.Context, r *Result) error {
	cols, err := resultValues(r)
	if err != nil {
		return err
	}

	args := append(cols, r.TestCaseID, r.ID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE run_results
		SET status = $1, response_status = $2, response_headers = $3, response_body = $4,
			response_time_ms = $5, assertions_passed = $6, assertions_failed = $7, error = $8,
			test_case_id = $9
		WHERE id = $10`, args...,
	)
	if err != nil {
		return fmt.Errorf("failed to update result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("result %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

// GetResult retrieves a single result.
func (s *Storage) GetResult(ctx context.Context, id int64) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM run_results WHERE id = $1`, id)
	r, err := scanResult(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("result %d", id))
	}
	return r, nil
}

func (s *Storage) listResults(ctx context.Context, tail string, args ...any) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resultColumns+` FROM run_results `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

// resultValues renders the columns status..error in schema order.
func resultValues(r *Result) ([]any, error) {
	headers, err := encodeJSON(nonNilStringMap(r.ResponseHeaders))
	if err != nil {
		return nil, err
	}
	passed, err := encodeJSON(nonNilDiagnostics(r.AssertionsPassed))
	if err != nil {
		return nil, err
	}
	failed, err := encodeJSON(nonNilDiagnostics(r.AssertionsFailed))
	if err != nil {
		return nil, err
	}
	return []any{
		r.Status, r.ResponseStatus, headers, r.ResponseBody, r.ResponseTimeMS, passed, failed, r.Error,
	}, nil
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		r                       Result
		headers, passed, failed []byte
	)
	err := row.Scan(&r.ID, &r.RunID, &r.RequestID, &r.TestCaseID, &r.Order, &r.Status, &r.ResponseStatus,
		&headers, &r.ResponseBody, &r.ResponseTimeMS, &passed, &failed, &r.Error, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(headers, &r.ResponseHeaders); err != nil {
		return nil, err
	}
	if err := decodeJSON(passed, &r.AssertionsPassed); err != nil {
		return nil, err
	}
	if err := decodeJSON(failed, &r.AssertionsFailed); err != nil {
		return nil, err
	}
	return &r, nil
}

func nonNilDiagnostics(d []assertion.Diagnostic) []assertion.Diagnostic {
	if d == nil {
		return []assertion.Diagnostic{}
	}
	return d
}
