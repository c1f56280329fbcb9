package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/josepht96/scoutrun/internal/testcase"
)

// CreateScenario inserts a scenario.
func (s *Storage) CreateScenario(ctx context.Context, sc *Scenario) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO scenarios (title, created_at) VALUES ($1, $2) RETURNING id`,
		sc.Title, now,
	).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("failed to create scenario: %w", err)
	}
	sc.CreatedAt = now
	return nil
}

// GetScenario retrieves a scenario by id.
func (s *Storage) GetScenario(ctx context.Context, id int64) (*Scenario, error) {
	var sc Scenario
	err := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM scenarios WHERE id = $1`, id).
		Scan(&sc.ID, &sc.Title, &sc.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("scenario %d", id))
	}
	return &sc, nil
}

// CreateTestCase inserts a test case under its scenario and assigns the
// next testcase_id for the scenario title's initials. A caller-provided
// TestCaseID is replaced.
func (s *Storage) CreateTestCase(ctx context.Context, tc *TestCase) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRowContext(ctx, `SELECT title FROM scenarios WHERE id = $1`, tc.ScenarioID).Scan(&title)
		if err != nil {
			return notFound(err, fmt.Sprintf("scenario %d", tc.ScenarioID))
		}

		initials := testcase.Initials(title)
		existing, err := testCaseIDsWithPrefix(ctx, tx, initials)
		if err != nil {
			return err
		}
		tc.TestCaseID = testcase.Next(initials, existing)

		now := s.now()
		err = tx.QueryRowContext(ctx, `
			INSERT INTO test_cases (scenario_id, testcase_id, title, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			tc.ScenarioID, tc.TestCaseID, tc.Title, now, now,
		).Scan(&tc.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("testcase id %s: %w", tc.TestCaseID, ErrConflict)
			}
			return fmt.Errorf("failed to create test case: %w", err)
		}
		tc.CreatedAt, tc.UpdatedAt = now, now
		return nil
	})
}

// ImportTestCase inserts a test case with an explicit testcase_id, as
// carried over from an external tracker.
func (s *Storage) ImportTestCase(ctx context.Context, tc *TestCase) error {
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO test_cases (scenario_id, testcase_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		tc.ScenarioID, tc.TestCaseID, tc.Title, now, now,
	).Scan(&tc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("testcase id %s: %w", tc.TestCaseID, ErrConflict)
		}
		return fmt.Errorf("failed to import test case: %w", err)
	}
	tc.CreatedAt, tc.UpdatedAt = now, now
	return nil
}

func testCaseIDsWithPrefix(ctx context.Context, q querier, initials string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT testcase_id FROM test_cases WHERE testcase_id LIKE $1`, initials+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query testcase ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan testcase id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateTestCase overwrites the title of a test case. TestCaseID is
// immutable: a changed value is ignored and tc is refreshed from storage.
func (s *Storage) UpdateTestCase(ctx context.Context, tc *TestCase) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_cases SET title = $1, updated_at = $2 WHERE id = $3`,
		tc.Title, now, tc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update test case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("test case %d: %w", tc.ID, ErrNotFound)
	}

	stored, err := s.GetTestCase(ctx, tc.ID)
	if err != nil {
		return err
	}
	*tc = *stored
	return nil
}

// GetTestCase retrieves a test case by id.
func (s *Storage) GetTestCase(ctx context.Context, id int64) (*TestCase, error) {
	var tc TestCase
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, testcase_id, title, created_at, updated_at
		FROM test_cases WHERE id = $1`, id,
	).Scan(&tc.ID, &tc.ScenarioID, &tc.TestCaseID, &tc.Title, &tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("test case %d", id))
	}
	return &tc, nil
}
