package storage

import (
	"context"
	"fmt"
	"strings"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS environments (
    id {{id}},
    name VARCHAR(255) NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    variables {{json}} NOT NULL,
    default_headers {{json}} NOT NULL,
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS collections (
    id {{id}},
    name VARCHAR(255) NOT NULL,
    slug VARCHAR(255) NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS collection_environments (
    collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    environment_id BIGINT NOT NULL REFERENCES environments(id) ON DELETE CASCADE,
    PRIMARY KEY (collection_id, environment_id)
);

CREATE TABLE IF NOT EXISTS requests (
    id {{id}},
    collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    method VARCHAR(10) NOT NULL,
    url TEXT NOT NULL,
    sort_order INTEGER NOT NULL CHECK (sort_order >= 0),
    timeout_ms INTEGER NOT NULL CHECK (timeout_ms > 0),
    headers {{json}} NOT NULL,
    query_params {{json}} NOT NULL,
    body_type VARCHAR(16) NOT NULL,
    body_json {{json}},
    body_form {{json}} NOT NULL,
    body_raw TEXT NOT NULL DEFAULT '',
    auth_type VARCHAR(16) NOT NULL,
    auth_basic {{json}} NOT NULL,
    auth_bearer TEXT NOT NULL DEFAULT '',
    body_transforms {{json}},
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL,
    UNIQUE (collection_id, sort_order)
);

CREATE INDEX IF NOT EXISTS idx_requests_collection_id ON requests(collection_id);

CREATE TABLE IF NOT EXISTS assertions (
    id {{id}},
    request_id BIGINT NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    type VARCHAR(32) NOT NULL,
    field TEXT NOT NULL DEFAULT '',
    expected_value TEXT NOT NULL DEFAULT '',
    comparator VARCHAR(16) NOT NULL DEFAULT 'equals',
    allow_partial BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_assertions_request_id ON assertions(request_id);

CREATE TABLE IF NOT EXISTS scenarios (
    id {{id}},
    title TEXT NOT NULL,
    created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
    id {{id}},
    scenario_id BIGINT NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
    testcase_id VARCHAR(64) NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    created_at {{ts}} NOT NULL,
    updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id {{id}},
    collection_id BIGINT REFERENCES collections(id) ON DELETE SET NULL,
    environment_id BIGINT REFERENCES environments(id) ON DELETE SET NULL,
    triggered_by TEXT,
    status VARCHAR(16) NOT NULL,
    total_requests INTEGER NOT NULL DEFAULT 0,
    passed_requests INTEGER NOT NULL DEFAULT 0,
    failed_requests INTEGER NOT NULL DEFAULT 0,
    error_requests INTEGER NOT NULL DEFAULT 0,
    started_at {{ts}} NOT NULL,
    finished_at {{ts}},
    created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_collection_id ON runs(collection_id);

CREATE TABLE IF NOT EXISTS run_results (
    id {{id}},
    run_id BIGINT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    request_id BIGINT REFERENCES requests(id) ON DELETE SET NULL,
    test_case_id BIGINT REFERENCES test_cases(id) ON DELETE SET NULL,
    sort_order INTEGER NOT NULL,
    status VARCHAR(16) NOT NULL,
    response_status INTEGER,
    response_headers {{json}} NOT NULL,
    response_body TEXT NOT NULL DEFAULT '',
    response_time_ms {{float}} NOT NULL DEFAULT 0,
    assertions_passed {{json}} NOT NULL,
    assertions_failed {{json}} NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_results_run_id ON run_results(run_id);
CREATE INDEX IF NOT EXISTS idx_run_results_test_case_id ON run_results(test_case_id);

CREATE TABLE IF NOT EXISTS automation_reports (
    id {{id}},
    report_id VARCHAR(32) NOT NULL UNIQUE,
    triggered_in TEXT NOT NULL DEFAULT '',
    triggered_by TEXT,
    total_passed INTEGER NOT NULL DEFAULT 0,
    total_failed INTEGER NOT NULL DEFAULT 0,
    total_blocked INTEGER NOT NULL DEFAULT 0,
    started {{ts}} NOT NULL,
    finished {{ts}}
);

CREATE TABLE IF NOT EXISTS automation_report_results (
    report_id BIGINT NOT NULL REFERENCES automation_reports(id) ON DELETE CASCADE,
    result_id BIGINT NOT NULL REFERENCES run_results(id) ON DELETE CASCADE,
    created_at {{ts}} NOT NULL,
    PRIMARY KEY (report_id, result_id)
);
`

// schemaFor renders the schema in the dialect of driver.
func schemaFor(driver string) string {
	var r *strings.Replacer
	if driver == DriverSQLite {
		r = strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{json}}", "TEXT",
			"{{ts}}", "TIMESTAMP",
			"{{float}}", "REAL",
		)
	} else {
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{json}}", "JSONB",
			"{{ts}}", "TIMESTAMP WITH TIME ZONE",
			"{{float}}", "DOUBLE PRECISION",
		)
	}
	return r.Replace(schemaTemplate)
}

// RunMigrations creates every table and index that does not exist yet.
func (s *Storage) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaFor(s.driver)); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
