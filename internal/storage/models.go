package storage

import (
	"time"

	"github.com/josepht96/scoutrun/internal/assertion"
	"github.com/josepht96/scoutrun/internal/transform"
)

// HTTP methods accepted on a Request.
var Methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Body types.
const (
	BodyNone = "none"
	BodyJSON = "json"
	BodyForm = "form"
	BodyRaw  = "raw"
)

// Auth types.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
)

// Run statuses.
const (
	RunPending = "pending"
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
)

// Result statuses.
const (
	ResultPassed = "passed"
	ResultFailed = "failed"
	ResultError  = "error"
)

// DefaultTimeoutMS applies to requests stored without a timeout.
const DefaultTimeoutMS = 30000

// MaxResponseBody is the largest response body kept on a Result, in bytes.
const MaxResponseBody = 20000

// Environment is a named bag of variables and default headers.
type Environment struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Variables      map[string]any    `json:"variables"`
	DefaultHeaders map[string]string `json:"default_headers"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Collection is an ordered set of requests run together.
type Collection struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Description    string    `json:"description"`
	EnvironmentIDs []int64   `json:"environments"`
	Requests       []Request `json:"requests,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BasicAuth holds templated basic credentials.
type BasicAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Request is a single API call within a collection.
type Request struct {
	ID             int64                 `json:"id"`
	CollectionID   int64                 `json:"collection_id"`
	Name           string                `json:"name"`
	Method         string                `json:"method"`
	URL            string                `json:"url"`
	Order          int                   `json:"order"`
	TimeoutMS      int                   `json:"timeout_ms"`
	Headers        map[string]string     `json:"headers"`
	QueryParams    map[string]any        `json:"query_params"`
	BodyType       string                `json:"body_type"`
	BodyJSON       any                   `json:"body_json"`
	BodyForm       map[string]string     `json:"body_form"`
	BodyRaw        string                `json:"body_raw"`
	AuthType       string                `json:"auth_type"`
	AuthBasic      BasicAuth             `json:"auth_basic"`
	AuthBearer     string                `json:"auth_bearer"`
	BodyTransforms *transform.Spec       `json:"body_transforms,omitempty"`
	Assertions     []assertion.Assertion `json:"assertions"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Summary counts the outcomes of a run's results.
type Summary struct {
	TotalRequests  int `json:"total_requests"`
	PassedRequests int `json:"passed_requests"`
	FailedRequests int `json:"failed_requests"`
	ErrorRequests  int `json:"error_requests"`
}

// Run is one execution of a collection or of an ad-hoc request.
type Run struct {
	ID            int64      `json:"id"`
	CollectionID  *int64     `json:"collection_id"`
	EnvironmentID *int64     `json:"environment_id"`
	TriggeredBy   *string    `json:"triggered_by"`
	Status        string     `json:"status"`
	Summary       Summary    `json:"summary"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	Results       []Result   `json:"results"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Result is the outcome of a single HTTP call within a run.
type Result struct {
	ID               int64                  `json:"id"`
	RunID            int64                  `json:"run_id"`
	RequestID        *int64                 `json:"request_id"`
	TestCaseID       *int64                 `json:"test_case_id"`
	Order            int                    `json:"order"`
	Status           string                 `json:"status"`
	ResponseStatus   *int                   `json:"response_status"`
	ResponseHeaders  map[string]string      `json:"response_headers"`
	ResponseBody     string                 `json:"response_body"`
	ResponseTimeMS   float64                `json:"response_time_ms"`
	AssertionsPassed []assertion.Diagnostic `json:"assertions_passed"`
	AssertionsFailed []assertion.Diagnostic `json:"assertions_failed"`
	Error            string                 `json:"error"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Scenario groups test cases; its title seeds test case ids.
type Scenario struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// TestCase is a named case whose TestCaseID is fixed at creation.
type TestCase struct {
	ID         int64     `json:"id"`
	ScenarioID int64     `json:"scenario_id"`
	TestCaseID string    `json:"testcase_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AutomationReport aggregates results into one verdict per test case.
type AutomationReport struct {
	ID           int64      `json:"id"`
	ReportID     string     `json:"report_id"`
	TriggeredIn  string     `json:"triggered_in"`
	TriggeredBy  *string    `json:"triggered_by"`
	TotalPassed  int        `json:"total_passed"`
	TotalFailed  int        `json:"total_failed"`
	TotalBlocked int        `json:"total_blocked"`
	Started      time.Time  `json:"started"`
	Finished     *time.Time `json:"finished"`
	Results      []Result   `json:"results,omitempty"`
}

// VerdictRow is the slice of a linked result the reporter aggregates.
type VerdictRow struct {
	ResultID   int64
	TestCaseID int64
	Status     string
	CreatedAt  time.Time
}
